package sink

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig holds broker settings. The defaults match the producer
// topic layout the simulator has always used.
type MQTTConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Broker         string `yaml:"broker" json:"broker"`
	Username       string `yaml:"username" json:"username"`
	Password       string `yaml:"password" json:"-"`
	ClientID       string `yaml:"client_id" json:"clientId"`
	Topic          string `yaml:"topic" json:"topic"` // May contain {id}
	QoS            byte   `yaml:"qos" json:"qos"`
	ConnectTimeout int    `yaml:"connect_timeout_ms" json:"connectTimeoutMs"`
	PublishTimeout int    `yaml:"publish_timeout_ms" json:"publishTimeoutMs"`
}

// MQTT publishes sentences to a broker, one message per sentence.
type MQTT struct {
	cfg            MQTTConfig
	log            zerolog.Logger
	connectTimeout time.Duration
	publishTimeout time.Duration

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTT creates an MQTT sink. Nothing is dialled until Connect.
func NewMQTT(cfg MQTTConfig, log zerolog.Logger) *MQTT {
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "plane-simulator-client"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	ct := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	if ct <= 0 {
		ct = 10 * time.Second
	}
	pt := time.Duration(cfg.PublishTimeout) * time.Millisecond
	if pt <= 0 {
		pt = 5 * time.Second
	}
	return &MQTT{
		cfg:            cfg,
		log:            log.With().Str("component", "mqtt").Logger(),
		connectTimeout: ct,
		publishTimeout: pt,
		newClient:      mqtt.NewClient,
	}
}

func (m *MQTT) Name() string { return "MQTT " + m.cfg.Broker }

func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetUsername(m.cfg.Username).
		SetPassword(m.cfg.Password).
		SetConnectTimeout(m.connectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Warn().Err(err).Msg("connection lost, reconnecting")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			m.log.Info().Str("broker", m.cfg.Broker).Msg("connected")
		})

	client := m.newClient(opts)
	tok := client.Connect()
	// A failed attempt must not linger: a late connect would hold the same
	// client id as the next attempt's client.
	if !tok.WaitTimeout(m.connectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt: connect to %s timed out after %v", m.cfg.Broker, m.connectTimeout)
	}
	if err := tok.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt: connect to %s: %w", m.cfg.Broker, err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
	return nil
}

// Publish sends payload with the configured QoS and waits for the broker
// acknowledgement (or the publish timeout).
func (m *MQTT) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	tok := client.Publish(topic, m.cfg.QoS, false, payload)
	if !tok.WaitTimeout(m.publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}
