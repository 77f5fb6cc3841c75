// Package telemetry ingests bus telemetry published over MQTT and feeds it
// through the same event pipeline as real-time connections.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// DefaultPrefix is the root of the telemetry topic tree.
const DefaultPrefix = "hajj"

// Topic kinds under <prefix>/buses/<busId>/.
const (
	KindLocation = "location"
	KindStatus   = "status"
	KindSensors  = "sensors"
)

var kindEvents = map[string]string{
	KindLocation: "busLocationUpdate",
	KindStatus:   "busStatusUpdate",
	KindSensors:  "sensorDataUpdate",
}

// ErrUnknownTopic is returned for messages outside the telemetry topic tree.
var ErrUnknownTopic = errors.New("unknown telemetry topic")

// Handler processes one inbound event for a session.
type Handler interface {
	Handle(ctx context.Context, c *hub.Client, event string, raw json.RawMessage) error
}

// Bridge maps MQTT messages onto events. Each bus gets a device session
// named "mqtt:<busId>" so validation and rate limits apply per bus exactly
// as they do for a connected client.
type Bridge struct {
	prefix  string
	handler Handler
	hub     *hub.Hub
	logger  logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*hub.Client
}

// NewBridge creates a bridge for topics under prefix.
func NewBridge(h *hub.Hub, handler Handler, prefix string, logger logrus.FieldLogger) *Bridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bridge{
		prefix:   strings.TrimSuffix(prefix, "/"),
		handler:  handler,
		hub:      h,
		logger:   logger.WithField("component", "mqtt_bridge"),
		sessions: make(map[string]*hub.Client),
	}
}

// Filter is the subscription filter covering every bus and kind.
func (b *Bridge) Filter() string {
	return b.prefix + "/buses/+/+"
}

// Topic returns the topic a bus publishes kind on.
func Topic(prefix, busID, kind string) string {
	return fmt.Sprintf("%s/buses/%s/%s", strings.TrimSuffix(prefix, "/"), busID, kind)
}

// ParseTopic splits a telemetry topic into bus id and event name.
func (b *Bridge) ParseTopic(topic string) (busID, event string, err error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/buses/")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	event, ok = kindEvents[parts[1]]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return parts[0], event, nil
}

// HandleMessage dispatches a single telemetry message. The bus id in the
// topic overrides any busId in the payload.
func (b *Bridge) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	busID, event, err := b.ParseTopic(topic)
	if err != nil {
		return err
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil || body == nil {
		return apperr.NewValidationError("payload must be a JSON object")
	}
	body["busId"] = busID
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	return b.handler.Handle(ctx, b.session(busID), event, raw)
}

// session returns the device session of a bus, creating it on first use.
// Sessions are not registered with the hub, so replies addressed to them
// are dropped; failures are reported through the returned error instead.
func (b *Bridge) session(busID string) *hub.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.sessions[busID]; ok {
		return c
	}
	c := hub.NewClient("mqtt:"+busID, 1, b.hub.Now())
	b.hub.Authenticate(c, busID, models.RoleDevice, models.ClientBus)
	b.sessions[busID] = c
	return c
}

// Sessions returns how many device sessions are open.
func (b *Bridge) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Subscribe subscribes client to the telemetry filter. Messages are handled
// with ctx until it is cancelled.
func (b *Bridge) Subscribe(ctx context.Context, client mqtt.Client, qos byte) error {
	token := client.Subscribe(b.Filter(), qos, func(_ mqtt.Client, msg mqtt.Message) {
		b.onMessage(ctx, msg)
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe %s: timed out", b.Filter())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.Filter(), err)
	}
	b.logger.WithField("filter", b.Filter()).Info("Subscribed to telemetry")
	return nil
}

func (b *Bridge) onMessage(ctx context.Context, msg mqtt.Message) {
	if ctx.Err() != nil {
		return
	}
	err := b.HandleMessage(ctx, msg.Topic(), msg.Payload())
	if err == nil {
		return
	}
	entry := b.logger.WithError(err).WithField("topic", msg.Topic())
	switch apperr.Status(err) {
	case apperr.StatusRateLimited:
		entry.Debug("Telemetry rate limited")
	case apperr.StatusServerError:
		entry.Error("Failed to handle telemetry")
	default:
		entry.Warn("Rejected telemetry")
	}
}

// Connect dials the broker. The bridge is resubscribed on every reconnect
// through onConnect.
func Connect(broker, clientID string, onConnect func(mqtt.Client), logger logrus.FieldLogger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WithError(err).Warn("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return client, nil
}
