package core

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

// fakeTransport records subscriptions and publishes for assertions.
type fakeTransport struct {
	mu           sync.Mutex
	connectErr   error
	publishErr   error
	onConnect    func()
	published    []fakeMessage
	subscribed   []string
	unsubscribed []string
}

func (f *fakeTransport) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.onConnect != nil {
		f.onConnect()
	}
	return nil
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, fakeMessage{topic: topic, payload: payload})
	return nil
}

func (f *fakeTransport) messagesOn(topic string) []fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeMessage
	for _, msg := range f.published {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = nil
}

func newTestSession(t *testing.T) (*SessionManager, *fakeTransport) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	transport := &fakeTransport{}
	session := NewSessionManager(SessionConfig{
		ProductCode:      "100100003",
		DeviceCode:       "0000014",
		DerivedTopics:    true,
		HeartbeatTimeout: 120 * time.Second,
		ConnectWait:      time.Second,
	}, transport, logger)
	return session, transport
}

func intPtr(v int) *int { return &v }

func subscribeTopic(cat Category) string {
	return fmt.Sprintf("100100003/0000014/S2M/%s", cat)
}

func deliverEnvelope(m *SessionManager, cat Category, env Envelope) {
	payload, _ := json.Marshal(env)
	m.HandleInbound(subscribeTopic(cat), payload)
}

func TestTransportUpSubscribesInboundTopics(t *testing.T) {
	session, transport := newTestSession(t)

	session.HandleTransportUp()

	assert.True(t, session.Connected())
	assert.Contains(t, transport.unsubscribed, "#")
	assert.Equal(t, []string{
		"100100003/0000014/S2M/keepalive",
		"100100003/0000014/S2M/state",
		"100100003/0000014/S2M/event",
		"100100003/0000014/S2M/response",
	}, transport.subscribed)
}

func TestConnectWaitsForAck(t *testing.T) {
	session, transport := newTestSession(t)
	transport.onConnect = session.HandleTransportUp

	require.NoError(t, session.Connect())
	assert.True(t, session.Connected())
}

func TestConnectTimesOutWithoutAck(t *testing.T) {
	session, _ := newTestSession(t)

	err := session.Connect()
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.False(t, session.Connected())
}

func TestStateMessageUpdatesSnapshot(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleTransportUp()

	deliverEnvelope(session, CategoryState, Envelope{
		Header:   Header{Function: StatePCSState, Timestamp: "2026-08-25 10:00:00"},
		DataBody: map[string]any{"P": 12.5},
	})

	snapshot, ok := session.Snapshot(StatePCSState)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"P": 12.5}, snapshot)

	// State receipt conveys implicit liveness.
	summary := session.Summary()
	assert.True(t, summary.Connected)
	assert.True(t, summary.TopicsDerived)
	assert.NotEmpty(t, summary.LastHeartbeat)
}

func TestStateMessageUnknownSubsystemIgnored(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleTransportUp()

	deliverEnvelope(session, CategoryState, Envelope{
		Header:   Header{Function: "mysteryState"},
		DataBody: map[string]any{"x": 1.0},
	})

	_, ok := session.Snapshot("mysteryState")
	assert.False(t, ok)
}

func TestSnapshotReplacedWholesale(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleTransportUp()

	deliverEnvelope(session, CategoryState, Envelope{
		Header:   Header{Function: StateBatteryState},
		DataBody: map[string]any{"soc": 40.0, "temp": 31.0},
	})
	deliverEnvelope(session, CategoryState, Envelope{
		Header:   Header{Function: StateBatteryState},
		DataBody: map[string]any{"soc": 41.0},
	})

	snapshot, ok := session.Snapshot(StateBatteryState)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"soc": 41.0}, snapshot)
}

func TestHeartbeatBringsSessionOnline(t *testing.T) {
	session, _ := newTestSession(t)
	require.False(t, session.Connected())

	session.HandleInbound(subscribeTopic(CategoryKeepalive), []byte("2026-08-25 10:00:00"))

	assert.True(t, session.Connected())
	assert.Equal(t, "2026-08-25 10:00:00", session.Summary().LastHeartbeat)
}

func TestMalformedHeartbeatIgnored(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleInbound(subscribeTopic(CategoryKeepalive), []byte("2026-08-25 10:00:00"))

	session.HandleInbound(subscribeTopic(CategoryKeepalive), []byte("not-a-timestamp"))

	assert.Equal(t, "2026-08-25 10:00:00", session.Summary().LastHeartbeat)
}

func TestMalformedEnvelopeDropped(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleTransportUp()

	session.HandleInbound(subscribeTopic(CategoryState), []byte("{broken"))

	snapshot, ok := session.Snapshot(StatePCSState)
	require.True(t, ok)
	assert.Empty(t, snapshot)
}

func TestUnrecognizedTopicDropped(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()

	session.HandleInbound("other/0000014/S2M/firmware", []byte(`{"header":{"index":1}}`))

	assert.Empty(t, transport.published)
	assert.Empty(t, session.EventTail(0))
}

func TestLiveness(t *testing.T) {
	session, _ := newTestSession(t)

	// Disconnected is never live.
	assert.False(t, session.Live())

	// Connected with no data yet: grace period.
	session.HandleTransportUp()
	assert.True(t, session.Live())

	// Heard from within the timeout.
	session.mu.Lock()
	session.lastSeen = time.Now().Add(-session.cfg.HeartbeatTimeout + time.Second)
	session.mu.Unlock()
	assert.True(t, session.Live())

	// Heard from beyond the timeout.
	session.mu.Lock()
	session.lastSeen = time.Now().Add(-session.cfg.HeartbeatTimeout - time.Second)
	session.mu.Unlock()
	assert.False(t, session.Live())
}

func TestTopicModeSwitchResubscribes(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()

	require.NoError(t, session.SetTopicOverride(CategoryEvent, DirectionSubscribe, "legacy/event-feed"))
	session.SetTopicMode(false)

	// Unsubscribe-all ran again and the explicit topics took over.
	assert.GreaterOrEqual(t, len(transport.unsubscribed), 2)
	assert.Contains(t, transport.subscribed, "legacy/event-feed")
	assert.Contains(t, transport.subscribed, "default/keepalive")
	assert.False(t, session.Summary().TopicsDerived)
}

func TestSetTopicOverrideUnknownSlot(t *testing.T) {
	session, _ := newTestSession(t)

	err := session.SetTopicOverride(CategoryConfirm, DirectionSubscribe, "x")
	assert.ErrorIs(t, err, ErrUnknownTopicSlot)
}
