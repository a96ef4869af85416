package presenter

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"obdrelay/internal/models"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Close() error
}

// MQTT mirrors status to a broker under a topic prefix: <prefix>/state
// (retained), <prefix>/sample and <prefix>/upload, all JSON.
type MQTT struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
}

func NewMQTT(pub Publisher, prefix string, logger *zap.Logger) *MQTT {
	return &MQTT{pub: pub, prefix: prefix, log: logger}
}

func (m *MQTT) publish(suffix string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.log.Warn("encode mqtt payload", zap.String("topic", suffix), zap.Error(err))
		return
	}
	topic := m.prefix + "/" + suffix
	if err := m.pub.Publish(topic, retained, payload); err != nil {
		m.log.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (m *MQTT) ConnectionChanged(state models.ConnectionState) {
	m.publish("state", true, struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}{state.Status.String(), state.Reason})
}

func (m *MQTT) SampleUpdated(s models.VehicleSample) { m.publish("sample", false, s) }

func (m *MQTT) UploadFinished(r models.UploadResult) { m.publish("upload", false, r) }

// Close disconnects the publisher.
func (m *MQTT) Close() error { return m.pub.Close() }

// PahoPublisher publishes to a real broker.
type PahoPublisher struct {
	client paho.Client
}

// NewPahoPublisher connects to broker, reconnecting in the background if
// the link drops later.
func NewPahoPublisher(broker, clientID string) (*PahoPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	return &PahoPublisher{client: client}, nil
}

func (p *PahoPublisher) Publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

func (p *PahoPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
