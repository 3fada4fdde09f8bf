// services/ess/internal/core/session.go
package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport is the pub/sub link the session runs over.
type Transport interface {
	Connect() error
	Disconnect()
	Subscribe(topic string) error
	Unsubscribe(topics ...string) error
	Publish(topic string, payload []byte) error
}

// SessionConfig holds settings for one station session.
type SessionConfig struct {
	ProductCode       string
	DeviceCode        string
	DerivedTopics     bool
	HeartbeatTimeout  time.Duration
	ConnectWait       time.Duration
	ReconnectInterval time.Duration
	EventLogLimit     int
}

// connectPollInterval is the step used while waiting for the connectivity
// flag after a transport connect.
const connectPollInterval = 500 * time.Millisecond

// SessionManager owns the control/telemetry session with a single
// energy-storage station: it classifies inbound messages, keeps the latest
// reported state, correlates commands with responses, acknowledges events
// and accumulates charge/discharge records.
//
// Inbound handling runs on the transport delivery goroutine; queries and
// command issuance run on HTTP handler goroutines. One mutex guards all
// mutable session state.
type SessionManager struct {
	cfg       SessionConfig
	transport Transport
	logger    *logrus.Logger

	mu           sync.Mutex
	topics       *TopicTable
	connected    bool
	lastSeen     time.Time
	lastSeenStr  string
	snapshots    map[string]map[string]any
	ledger       *eventLedger
	messageIndex int
	pending      map[int]*PendingCommand
	pendingOrder []int
	history      []CommandLogEntry
	lastOrderSN  string
}

// NewSessionManager creates a session manager for one station.
func NewSessionManager(cfg SessionConfig, transport Transport, logger *logrus.Logger) *SessionManager {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 120 * time.Second
	}
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = 10 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.EventLogLimit <= 0 {
		cfg.EventLogLimit = 1000
	}

	snapshots := make(map[string]map[string]any, len(StateFunctions))
	for _, fn := range StateFunctions {
		snapshots[fn] = map[string]any{}
	}

	return &SessionManager{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		topics:    NewTopicTable(cfg.ProductCode, cfg.DeviceCode, cfg.DerivedTopics),
		snapshots: snapshots,
		ledger:    newEventLedger(cfg.EventLogLimit),
		pending:   make(map[int]*PendingCommand),
	}
}

// Connect opens the transport and blocks up to the configured wait for the
// connectivity flag to come up. It runs on the caller's goroutine, never on
// the delivery goroutine.
func (m *SessionManager) Connect() error {
	if err := m.transport.Connect(); err != nil {
		m.logger.WithError(err).WithField("device_code", m.cfg.DeviceCode).
			Error("Failed to connect to broker")
		return err
	}

	deadline := time.Now().Add(m.cfg.ConnectWait)
	for time.Now().Before(deadline) {
		if m.Connected() {
			return nil
		}
		time.Sleep(connectPollInterval)
	}

	if m.Connected() {
		return nil
	}
	return ErrConnectTimeout
}

// Disconnect closes the transport and clears the connectivity flag.
func (m *SessionManager) Disconnect() {
	m.transport.Disconnect()

	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	m.logger.WithField("device_code", m.cfg.DeviceCode).Info("Disconnected from station")
}

// HandleTransportUp marks the session connected after a transport-level
// connect acknowledgment and (re)subscribes the inbound topics.
func (m *SessionManager) HandleTransportUp() {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	m.logger.WithField("device_code", m.cfg.DeviceCode).Info("Connected to broker, monitoring station")
	m.resubscribe()
}

// HandleTransportDown clears the connectivity flag after a lost connection.
func (m *SessionManager) HandleTransportDown(err error) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	m.logger.WithError(err).WithField("device_code", m.cfg.DeviceCode).
		Warn("Lost connection to broker")
}

// resubscribe drops any existing wildcard/legacy subscriptions and
// subscribes the four inbound categories under their resolved topics.
func (m *SessionManager) resubscribe() {
	m.mu.Lock()
	topics := m.topics.SubscribeTopics()
	m.mu.Unlock()

	if err := m.transport.Unsubscribe("#"); err != nil {
		m.logger.WithError(err).Warn("Failed to unsubscribe existing topics")
	}
	for _, topic := range topics {
		if err := m.transport.Subscribe(topic); err != nil {
			m.logger.WithError(err).WithField("topic", topic).Error("Failed to subscribe to topic")
		} else {
			m.logger.WithField("topic", topic).Info("Subscribed to topic")
		}
	}
}

// SetTopicMode switches between derived and explicit topic resolution.
// While connected this triggers an unsubscribe-all and a resubscription
// under the newly resolved topics.
func (m *SessionManager) SetTopicMode(derived bool) {
	m.mu.Lock()
	m.topics.SetDerived(derived)
	connected := m.connected
	m.mu.Unlock()

	m.logger.WithField("derived", derived).Info("Topic mode switched")
	if connected {
		m.resubscribe()
	}
}

// SetTopicOverride pins an explicit topic for one category/direction slot.
func (m *SessionManager) SetTopicOverride(cat Category, dir Direction, topic string) error {
	m.mu.Lock()
	err := m.topics.SetOverride(cat, dir, topic)
	m.mu.Unlock()

	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"category":  cat,
			"direction": dir,
		}).Warn("Rejected topic override for unrecognized slot")
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"category":  cat,
		"direction": dir,
		"topic":     topic,
	}).Info("Topic override set")
	return nil
}

// Supervise reconnects on a fixed short interval whenever the session is not
// live. This is a deliberate minimal-recovery policy, not a
// retry-storm-proof design: there is no backoff beyond the fixed interval.
func (m *SessionManager) Supervise(ctx context.Context) {
	for {
		wait := 5 * time.Second
		if !m.Live() {
			m.logger.WithField("device_code", m.cfg.DeviceCode).Warn("Station offline, reconnecting")
			if err := m.Connect(); err != nil {
				m.logger.WithError(err).Warn("Reconnect attempt failed")
			}
			wait = m.cfg.ReconnectInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// HandleInbound classifies one inbound payload and routes it. It runs on the
// transport delivery goroutine.
func (m *SessionManager) HandleInbound(topic string, payload []byte) {
	m.mu.Lock()
	cat, ok := m.topics.Classify(topic)
	m.mu.Unlock()

	if !ok {
		m.logger.WithField("topic", topic).Warn("Dropping message on unrecognized topic")
		return
	}

	if cat == CategoryKeepalive {
		m.handleHeartbeat(strings.TrimSpace(string(payload)))
		return
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		m.logger.WithError(err).WithField("topic", topic).Warn("Dropping malformed envelope")
		return
	}

	switch cat {
	case CategoryState:
		m.handleState(env)
	case CategoryEvent:
		m.handleEvent(env)
	case CategoryResponse:
		m.handleResponse(env)
	}
}

// handleHeartbeat parses a plain-text heartbeat timestamp. A valid heartbeat
// also brings the session online when the transport flag lags behind.
func (m *SessionManager) handleHeartbeat(payload string) {
	seen, err := time.ParseInLocation(WireTimeFormat, payload, time.Local)
	if err != nil {
		m.logger.WithField("payload", payload).Warn("Ignoring heartbeat with invalid timestamp")
		return
	}

	m.mu.Lock()
	m.lastSeen = seen
	m.lastSeenStr = payload
	wasConnected := m.connected
	m.connected = true
	m.mu.Unlock()

	if !wasConnected {
		m.logger.WithFields(logrus.Fields{
			"device_code": m.cfg.DeviceCode,
			"heartbeat":   payload,
		}).Info("Station online")
	} else {
		m.logger.WithField("heartbeat", payload).Debug("Heartbeat received")
	}
}

// handleState replaces one snapshot slot wholesale. State receipt conveys
// implicit liveness.
func (m *SessionManager) handleState(env Envelope) {
	function := env.Header.Function

	m.mu.Lock()
	if _, ok := m.snapshots[function]; !ok {
		m.mu.Unlock()
		m.logger.WithField("function", function).Debug("Ignoring state message for unknown subsystem")
		return
	}

	body := env.DataBody
	if body == nil {
		body = map[string]any{}
	}
	m.snapshots[function] = body
	m.touchLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"function": function,
		"fields":   len(body),
	}).Debug("State snapshot updated")
}

// handleEvent appends the event to the ledger, folds in charge/discharge
// records and acknowledges the event per the confirmation protocol.
func (m *SessionManager) handleEvent(env Envelope) {
	function := env.Header.Function

	m.mu.Lock()
	m.ledger.append(EventRecord{
		Timestamp:  env.Header.Timestamp,
		ReceivedAt: time.Now(),
		Function:   function,
		Header:     env.Header,
		Body:       env.DataBody,
	})

	if function == FunctionChargeRecord || function == FunctionDischargeRecord {
		if rec, ok := m.ledger.applyTransfer(function, env.DataBody); ok {
			m.logger.WithFields(logrus.Fields{
				"function":     function,
				"order_sn":     rec.OrderSN,
				"elect_amount": rec.EnergyKWh,
				"total_money":  rec.TotalCost,
			}).Info("Transfer record stored")
		}
	}
	m.touchLocked()
	m.mu.Unlock()

	m.publishConfirm(env)
}

// handleResponse matches a response to its pending command by header index.
func (m *SessionManager) handleResponse(env Envelope) {
	if env.Header.Index == nil {
		m.logger.Warn("Dropping response without message index")
		return
	}
	index := *env.Header.Index

	m.mu.Lock()
	cmd, ok := m.pending[index]
	if ok {
		cmd.Status = CommandStatusCompleted
		response := env
		cmd.Response = &response
	}
	m.mu.Unlock()

	if ok {
		m.logger.WithFields(logrus.Fields{
			"index":    index,
			"function": env.Header.Function,
		}).Info("Command response received")
	} else {
		m.logger.WithField("index", index).Warn("Unmatched command response")
	}
}

// touchLocked refreshes the last-seen clock. Callers hold the session mutex.
func (m *SessionManager) touchLocked() {
	m.lastSeen = time.Now()
	m.lastSeenStr = m.lastSeen.Format(WireTimeFormat)
}

// Connected reports the connectivity flag.
func (m *SessionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Live reports whether the station is connected and recently heard-from.
// With no message seen yet, liveness holds as a grace period while the
// connectivity flag is up.
func (m *SessionManager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return false
	}
	if m.lastSeen.IsZero() {
		return true
	}
	return time.Since(m.lastSeen) <= m.cfg.HeartbeatTimeout
}

// Summary returns the connection summary for the presentation layer.
func (m *SessionManager) Summary() StatusSummary {
	live := m.Live()

	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusSummary{
		DeviceCode:           m.cfg.DeviceCode,
		Connected:            live,
		LastHeartbeat:        m.lastSeenStr,
		TopicsDerived:        m.topics.Derived(),
		ChargeRecordCount:    len(m.ledger.charge),
		DischargeRecordCount: len(m.ledger.discharge),
	}
}

// Snapshot returns a copy of one state slot.
func (m *SessionManager) Snapshot(function string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.snapshots[function]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(slot))
	for k, v := range slot {
		out[k] = v
	}
	return out, true
}

// EventTail returns the most recent count events, newest first.
func (m *SessionManager) EventTail(count int) []EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.tail(count)
}

// ChargeRecords returns charge records; with an order identifier it returns
// at most the one exact match, otherwise the most recent count records.
func (m *SessionManager) ChargeRecords(count int, orderSN string) []TransferRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.chargeRecords(count, orderSN)
}

// DischargeRecords mirrors ChargeRecords for discharge sessions.
func (m *SessionManager) DischargeRecords(count int, orderSN string) []TransferRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.dischargeRecords(count, orderSN)
}

// TotalCost returns the running total-cost accumulator.
func (m *SessionManager) TotalCost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.totalCost
}
