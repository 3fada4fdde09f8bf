// services/ess/internal/core/confirm.go
package core

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// confirmFunctions is the closed event-to-confirmation mapping. Events with
// no entry are still confirmed, with an empty function identifier; the
// station accepts that and changing it would break fielded firmware.
var confirmFunctions = map[string]string{
	FunctionChargeEvent:     ConfirmChargeEvent,
	FunctionDischargeEvent:  ConfirmDischargeEvent,
	FunctionFaultRecord:     ConfirmFaultRecord,
	FunctionChargeRecord:    ConfirmChargeRecord,
	FunctionDischargeRecord: ConfirmDischargeRecord,
}

// publishConfirm acknowledges one inbound event on the confirm topic,
// echoing the event's message index and order identifier. Events without a
// header index are not confirmed.
func (m *SessionManager) publishConfirm(event Envelope) {
	if event.Header.Index == nil {
		return
	}

	var orderSN any
	if event.DataBody != nil {
		orderSN = event.DataBody["orderSn"]
	}

	confirm := Envelope{
		Header: Header{
			Index:       event.Header.Index,
			Version:     "1.0",
			Timestamp:   time.Now().Format(WireTimeFormat),
			MessageType: "confirm",
			Function:    confirmFunctions[event.Header.Function],
		},
		DataBody: map[string]any{
			"orderSn": orderSN,
			"result":  1,
			"reason":  1,
		},
	}

	m.mu.Lock()
	topic := m.topics.Resolve(CategoryConfirm, DirectionPublish)
	m.mu.Unlock()

	payload, err := json.Marshal(confirm)
	if err != nil {
		m.logger.WithError(err).Error("Failed to encode confirmation")
		return
	}

	if err := m.transport.Publish(topic, payload); err != nil {
		m.logger.WithError(err).WithField("topic", topic).Error("Failed to publish confirmation")
		return
	}

	m.logger.WithFields(logrus.Fields{
		"index":    *event.Header.Index,
		"function": confirm.Header.Function,
		"topic":    topic,
	}).Debug("Event confirmed")
}
