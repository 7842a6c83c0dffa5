// Package mqtt ingests position reports published by on-board units.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/config"
	"github.com/ukydev/transit-proximity/internal/models"
)

const (
	connectTimeout = 10 * time.Second
	handleTimeout  = 5 * time.Second
)

// Recorder stores a position report.
type Recorder interface {
	Record(ctx context.Context, report models.PositionReport) (models.VehiclePosition, error)
}

// Subscriber consumes position reports from an MQTT topic. Messages on
// <prefix>/<route>/<vehicle> may omit route_id and vehicle_id from the
// JSON payload; ids in the payload take precedence.
type Subscriber struct {
	cfg      config.MQTTConfig
	recorder Recorder
	client   paho.Client
}

// NewSubscriber creates a subscriber for cfg. It does not connect.
func NewSubscriber(cfg config.MQTTConfig, recorder Recorder) *Subscriber {
	return &Subscriber{cfg: cfg, recorder: recorder}
}

// Start connects to the broker and subscribes. The subscription is renewed
// on every reconnect.
func (s *Subscriber) Start() error {
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c paho.Client) {
			token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
			if token.WaitTimeout(connectTimeout) && token.Error() != nil {
				log.WithError(token.Error()).WithField("topic", s.cfg.Topic).Error("MQTT subscribe failed")
				return
			}
			log.WithField("topic", s.cfg.Topic).Info("Subscribed to MQTT positions topic")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
		log.WithError(err).WithField("topic", msg.Topic()).Warn("Rejected MQTT position report")
	}
}

// HandleMessage decodes one payload and records it.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var report models.PositionReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if route, vehicle, ok := idsFromTopic(s.cfg.Topic, topic); ok {
		if report.RouteID == "" {
			report.RouteID = route
		}
		if report.VehicleID == "" {
			report.VehicleID = vehicle
		}
	}
	_, err := s.recorder.Record(ctx, report)
	return err
}

// idsFromTopic extracts route and vehicle ids from topic when it matches
// filter, which must end in a multi-level wildcard.
func idsFromTopic(filter, topic string) (route, vehicle string, ok bool) {
	if !strings.HasSuffix(filter, "#") {
		return "", "", false
	}
	prefix := strings.TrimSuffix(filter, "#")
	if !strings.HasPrefix(topic, prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
