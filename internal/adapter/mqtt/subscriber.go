package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/tank-monitor-service/internal/config"
	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	bufferSize     = 1024
)

// Subscriber receives sensor readings published by devices under
// <prefix>/<tank>/<kind>. It implements pipeline.BatchExtractor.
type Subscriber struct {
	client        paho.Client
	prefix        string
	logger        *slog.Logger
	flushInterval time.Duration
	messages      chan domain.RawEvent
}

// NewSubscriber configures an MQTT client. Subscriptions are (re)established
// on every connect so they survive broker restarts.
func NewSubscriber(cfg *config.Config, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		prefix:        cfg.MQTTTopicPrefix,
		logger:        logger,
		flushInterval: cfg.BatchFlushInterval,
		messages:      make(chan domain.RawEvent, bufferSize),
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	s.client = paho.NewClient(opts)
	return s
}

// Connect dials the broker and waits for the first connection.
func (s *Subscriber) Connect(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return errors.New("connect mqtt broker: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe(c paho.Client) {
	filter := s.prefix + "/+/+"
	token := c.Subscribe(filter, qos, s.handle)
	if !token.WaitTimeout(connectTimeout) {
		s.logger.Error("mqtt subscribe timed out", "filter", filter)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("mqtt subscribe failed", "filter", filter, "error", err)
		return
	}
	s.logger.Info("mqtt subscribed", "filter", filter)
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	raw, ok := mapMessageToRawEvent(s.prefix, msg.Topic(), msg.Payload(), time.Now())
	if !ok {
		s.logger.Warn("ignoring message on unexpected topic", "topic", msg.Topic())
		return
	}
	s.messages <- raw
}

// ExtractBatch blocks for the first reading, then gathers up to batchSize
// readings until the flush interval elapses.
func (s *Subscriber) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	var batch []domain.RawEvent
	select {
	case raw := <-s.messages:
		batch = append(make([]domain.RawEvent, 0, batchSize), raw)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(s.flushInterval)
	defer timer.Stop()
	for len(batch) < batchSize {
		select {
		case raw := <-s.messages:
			batch = append(batch, raw)
		case <-timer.C:
			return batch, nil
		case <-ctx.Done():
			return batch, nil
		}
	}
	return batch, nil
}

// Close disconnects from the broker, allowing in-flight work a short grace period.
func (s *Subscriber) Close() error {
	s.client.Disconnect(250)
	return nil
}

// mapMessageToRawEvent routes a message on <prefix>/<tank>/<kind> by
// setting the tank and kind headers. The payload may be a bare value.
func mapMessageToRawEvent(prefix, topic string, payload []byte, received time.Time) (domain.RawEvent, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return domain.RawEvent{}, false
	}
	tankID, kind, ok := strings.Cut(rest, "/")
	if !ok || tankID == "" || kind == "" || strings.Contains(kind, "/") {
		return domain.RawEvent{}, false
	}
	return domain.RawEvent{
		Key:   []byte(tankID),
		Value: payload,
		Headers: map[string]string{
			domain.HeaderTankID: tankID,
			domain.HeaderKind:   kind,
		},
		Topic:     topic,
		Timestamp: received,
	}, true
}
