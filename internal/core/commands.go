// services/ess/internal/core/commands.go
package core

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// IssueCommand assigns the next message index to a command, records it as
// pending and publishes it on the request topic. It returns -1 with
// ErrNotConnected while the session is offline; the pending table is left
// untouched in that case.
//
// Pending commands never expire: a command with no response stays pending
// and the table doubles as the command audit trail.
func (m *SessionManager) IssueCommand(cmdType CommandType, params map[string]any) (int, error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		m.logger.WithField("command", cmdType).Warn("Cannot issue command while disconnected")
		return -1, ErrNotConnected
	}

	m.messageIndex++
	index := m.messageIndex

	env := Envelope{
		Header: Header{
			Index:     &index,
			Version:   "1.0",
			Function:  string(cmdType),
			Timestamp: time.Now().Format(WireTimeFormat),
		},
		DataBody: params,
	}

	m.pending[index] = &PendingCommand{
		Index:    index,
		Type:     cmdType,
		Params:   params,
		IssuedAt: time.Now(),
		Status:   CommandStatusPending,
	}
	m.pendingOrder = append(m.pendingOrder, index)
	topic := m.topics.Resolve(CategoryRequest, DirectionPublish)
	m.mu.Unlock()

	payload, err := json.Marshal(env)
	if err != nil {
		m.logger.WithError(err).WithField("command", cmdType).Error("Failed to encode command")
		return index, BusinessError{Code: CodeCommandEncodeFailed, Message: err.Error()}
	}

	if err := m.transport.Publish(topic, payload); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"command": cmdType,
			"topic":   topic,
		}).Error("Failed to publish command")
		return index, BusinessError{Code: CodeCommandPublishFailed, Message: err.Error()}
	}

	m.logger.WithFields(logrus.Fields{
		"command": cmdType,
		"index":   index,
		"topic":   topic,
	}).Info("Command published")
	return index, nil
}

// Command returns one pending-command entry by message index.
func (m *SessionManager) Command(index int) (PendingCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd, ok := m.pending[index]
	if !ok {
		return PendingCommand{}, false
	}
	return *cmd, true
}

// Commands returns the most recent count pending-command entries, newest
// first.
func (m *SessionManager) Commands(count int) []PendingCommand {
	m.mu.Lock()
	defer m.mu.Unlock()

	if count <= 0 || count > len(m.pendingOrder) {
		count = len(m.pendingOrder)
	}
	out := make([]PendingCommand, 0, count)
	for i := len(m.pendingOrder) - 1; i >= len(m.pendingOrder)-count; i-- {
		if cmd, ok := m.pending[m.pendingOrder[i]]; ok {
			out = append(out, *cmd)
		}
	}
	return out
}

// CommandHistory returns the most recent count history lines, newest first.
func (m *SessionManager) CommandHistory(count int) []CommandLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if count <= 0 || count > len(m.history) {
		count = len(m.history)
	}
	out := make([]CommandLogEntry, 0, count)
	for i := len(m.history) - 1; i >= len(m.history)-count; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// generateOrderSN builds a second-resolution order identifier.
func generateOrderSN() string {
	return time.Now().Format("20060102150405")
}

func (m *SessionManager) appendHistoryLocked(id, label string, fn CommandType) {
	m.history = append(m.history, CommandLogEntry{
		ID:        id,
		Label:     label,
		Function:  string(fn),
		Timestamp: time.Now().Format(WireTimeFormat),
		Status:    "sent",
	})
}

// StartCharge issues a charge power-on command under a fresh order
// identifier and remembers it for a later shutdown.
func (m *SessionManager) StartCharge() (int, error) {
	orderSN := generateOrderSN()

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return -1, ErrNotConnected
	}
	// The station prefixes order identifiers with the operator code.
	m.lastOrderSN = "12345678" + orderSN
	m.appendHistoryLocked(m.lastOrderSN, "charge start", CommandPowerControl)
	m.mu.Unlock()

	return m.IssueCommand(CommandPowerControl, map[string]any{
		"orderSn": orderSN,
		"type":    PowerControlCharge,
	})
}

// StartDischarge issues a discharge power-on command under a fresh order
// identifier.
func (m *SessionManager) StartDischarge() (int, error) {
	orderSN := generateOrderSN()

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return -1, ErrNotConnected
	}
	m.lastOrderSN = "12345678" + orderSN
	m.appendHistoryLocked(m.lastOrderSN, "discharge start", CommandPowerControl)
	m.mu.Unlock()

	return m.IssueCommand(CommandPowerControl, map[string]any{
		"orderSn": orderSN,
		"type":    PowerControlDischarge,
	})
}

// Shutdown issues a power-off command against the order identifier of the
// most recently started charge or discharge session; the station pairs the
// stop with that running order.
func (m *SessionManager) Shutdown() (int, error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return -1, ErrNotConnected
	}
	orderSN := m.lastOrderSN
	m.appendHistoryLocked(orderSN, "shutdown", CommandPowerControl)
	m.mu.Unlock()

	return m.IssueCommand(CommandPowerControl, map[string]any{
		"orderSn": orderSN,
		"type":    PowerControlShutdown,
	})
}

// AdjustChargePower issues a charge power adjustment.
func (m *SessionManager) AdjustChargePower(req PowerAdjustRequest) (int, error) {
	return m.adjustPower(CommandChargePowerAdjust, "charge power adjust", req)
}

// AdjustDischargePower issues a discharge power adjustment.
func (m *SessionManager) AdjustDischargePower(req PowerAdjustRequest) (int, error) {
	return m.adjustPower(CommandDischargePowerAdjust, "discharge power adjust", req)
}

func (m *SessionManager) adjustPower(cmdType CommandType, label string, req PowerAdjustRequest) (int, error) {
	if req.PCSNo == "" {
		req.PCSNo = "-" // whole station
	}
	if req.CtrlType == 0 {
		req.CtrlType = 1 // active power
	}
	if req.CtrlParam == 0 {
		req.CtrlParam = 1 // maximum power
	}
	if req.Effect == 0 {
		req.Effect = 1 // immediate
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return -1, ErrNotConnected
	}
	m.appendHistoryLocked(m.lastOrderSN, label, cmdType)
	m.mu.Unlock()

	return m.IssueCommand(cmdType, map[string]any{
		"pcsNo":     req.PCSNo,
		"ctrlType":  req.CtrlType,
		"ctrlParam": req.CtrlParam,
		"effect":    req.Effect,
		"ctrlValue": req.CtrlValue,
	})
}

// SetChargeRateModel issues a charge rate-model set command.
func (m *SessionManager) SetChargeRateModel(req RateModelRequest) (int, error) {
	return m.setRateModel(CommandChargeRateMode, "charge rate model set", req)
}

// SetDischargeRateModel issues a discharge rate-model set command.
func (m *SessionManager) SetDischargeRateModel(req RateModelRequest) (int, error) {
	return m.setRateModel(CommandDischargeRateMode, "discharge rate model set", req)
}

func (m *SessionManager) setRateModel(cmdType CommandType, label string, req RateModelRequest) (int, error) {
	if !m.Connected() {
		return -1, ErrNotConnected
	}

	if len(req.RateList) != len(req.RateDetailsList) ||
		len(req.RateList) < 1 || len(req.RateList) > 12 {
		m.logger.WithFields(logrus.Fields{
			"rates":   len(req.RateList),
			"details": len(req.RateDetailsList),
		}).Warn("Rejected rate model with invalid segments")
		return -1, ErrInvalidRateModel
	}

	m.mu.Lock()
	m.appendHistoryLocked(req.RateModelID, label, cmdType)
	m.mu.Unlock()

	return m.IssueCommand(cmdType, map[string]any{
		"rateModelID":     req.RateModelID,
		"effect":          req.Effect,
		"effectDate":      req.EffectDate,
		"rateList":        req.RateList,
		"rateDetailsList": req.RateDetailsList,
	})
}

// SetChargeSOCLimit issues a charge state-of-charge limit.
func (m *SessionManager) SetChargeSOCLimit(req SOCLimitRequest) (int, error) {
	return m.setSOCLimit(CommandChargeSOCSet, "charge soc limit", req)
}

// SetDischargeSOCLimit issues a discharge state-of-charge limit.
func (m *SessionManager) SetDischargeSOCLimit(req SOCLimitRequest) (int, error) {
	return m.setSOCLimit(CommandDischargeSOCSet, "discharge soc limit", req)
}

func (m *SessionManager) setSOCLimit(cmdType CommandType, label string, req SOCLimitRequest) (int, error) {
	if req.DeviceCode == "" {
		req.DeviceCode = m.cfg.DeviceCode
	}
	if req.DeviceType == 0 {
		req.DeviceType = 1 // energy-storage station
	}
	if req.OperType == 0 {
		req.OperType = 1 // set
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return -1, ErrNotConnected
	}
	m.appendHistoryLocked(req.DeviceCode, label, cmdType)
	m.mu.Unlock()

	return m.IssueCommand(cmdType, map[string]any{
		"deviceCode": req.DeviceCode,
		"deviceType": req.DeviceType,
		"param":      req.Param,
		"operType":   req.OperType,
		"paramValue": req.ParamValue,
	})
}
