// services/ess/internal/infrastructure/mqtt.go
package infrastructure

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InboundHandler processes one inbound message. It is invoked on the
// delivery goroutine, in arrival order.
type InboundHandler func(topic string, payload []byte)

// ConnectionEvents notifies the session layer about transport-level
// connectivity changes.
type ConnectionEvents struct {
	OnUp   func()
	OnDown func(err error)
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// MQTTSession owns the broker connection for one station session: connect,
// subscribe, publish, disconnect. Reconnection is intentionally left to the
// caller's supervisory loop, so auto-reconnect stays off.
type MQTTSession struct {
	config  MQTTConfig
	client  mqtt.Client
	logger  *logrus.Logger
	handler InboundHandler
	events  ConnectionEvents

	mu        sync.RWMutex
	connected bool
}

// NewMQTTSession creates an MQTT session for the given broker.
func NewMQTTSession(config MQTTConfig, logger *logrus.Logger) (*MQTTSession, error) {
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}

	if config.ClientID == "" {
		config.ClientID = fmt.Sprintf("ess-cloud-%s", uuid.New().String())
	}

	return &MQTTSession{
		config: config,
		logger: logger,
	}, nil
}

// SetInboundHandler registers the handler for inbound messages.
func (s *MQTTSession) SetInboundHandler(handler InboundHandler) {
	s.handler = handler
}

// SetConnectionEvents registers connectivity callbacks.
func (s *MQTTSession) SetConnectionEvents(events ConnectionEvents) {
	s.events = events
}

// Connect supplies credentials, opens the connection and starts the inbound
// delivery loop. A connect refusal is surfaced with the broker's reason code.
//
// Any previous client is shut down first. Leaving it open would let the
// broker's client-ID takeover kick it later, and its lost-callback would
// then clear the connectivity flag after the replacement is already up.
func (s *MQTTSession) Connect() error {
	s.mu.Lock()
	prev := s.client
	s.mu.Unlock()
	if prev != nil && prev.IsConnected() {
		prev.Disconnect(250)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.config.BrokerURL)
	opts.SetClientID(s.config.ClientID)

	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
	}
	if s.config.Password != "" {
		opts.SetPassword(s.config.Password)
	}

	opts.SetCleanSession(s.config.CleanSession)
	opts.SetKeepAlive(s.config.KeepAlive)
	opts.SetConnectTimeout(s.config.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetDefaultPublishHandler(s.messageHandler)

	client := mqtt.NewClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	s.logger.WithField("broker", s.config.BrokerURL).Info("MQTT session started")
	return nil
}

// Disconnect stops the delivery loop and closes the connection.
func (s *MQTTSession) Disconnect() {
	s.mu.Lock()
	s.connected = false
	client := s.client
	s.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	s.logger.Info("MQTT session stopped")
}

// currentClient returns the client of the most recent Connect call.
func (s *MQTTSession) currentClient() mqtt.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// IsConnected returns the connection status.
func (s *MQTTSession) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Subscribe subscribes one topic at the configured QoS.
func (s *MQTTSession) Subscribe(topic string) error {
	if token := s.currentClient().Subscribe(topic, s.config.QoS, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe removes subscriptions.
func (s *MQTTSession) Unsubscribe(topics ...string) error {
	if token := s.currentClient().Unsubscribe(topics...); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Publish sends one message at the configured QoS.
func (s *MQTTSession) Publish(topic string, payload []byte) error {
	client := s.currentClient()
	if client == nil || !s.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	token := client.Publish(topic, s.config.QoS, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	return nil
}

// onConnect handles a successful connection acknowledgment. Acks from a
// client that Connect has since replaced are ignored.
func (s *MQTTSession) onConnect(client mqtt.Client) {
	s.mu.Lock()
	if client != s.client {
		s.mu.Unlock()
		s.logger.Debug("Ignoring connect ack from replaced client")
		return
	}
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("Connected to MQTT broker")
	if s.events.OnUp != nil {
		s.events.OnUp()
	}
}

// onConnectionLost handles connection loss. A replaced client losing its
// connection, e.g. after a broker-side client-ID takeover, must not flap the
// live session.
func (s *MQTTSession) onConnectionLost(client mqtt.Client, err error) {
	s.mu.Lock()
	if client != s.client {
		s.mu.Unlock()
		s.logger.WithError(err).Debug("Ignoring lost event from replaced client")
		return
	}
	s.connected = false
	s.mu.Unlock()

	s.logger.WithError(err).Warn("Lost connection to MQTT broker")
	if s.events.OnDown != nil {
		s.events.OnDown(err)
	}
}

// messageHandler delivers inbound messages. Delivery is synchronous so the
// session sees messages in arrival order.
func (s *MQTTSession) messageHandler(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()

	s.logger.WithFields(logrus.Fields{
		"topic":      msg.Topic(),
		"message_id": msg.MessageID(),
		"qos":        msg.Qos(),
		"size":       len(payload),
	}).Debug("Received MQTT message")

	if s.handler != nil {
		s.handler(msg.Topic(), payload)
	}
}
