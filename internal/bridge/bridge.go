// Package bridge connects the telemetry broker to the store and the
// realtime hub: it consumes chamber readings, resolves the originating
// chamber, persists the sample, refreshes liveness, and fans the reading
// out to the chamber's room.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"fruitripe.dev/chamber-hub/internal/hub"
	"fruitripe.dev/chamber-hub/internal/store"
	"fruitripe.dev/chamber-hub/pkg/metrics"
	"fruitripe.dev/chamber-hub/pkg/mq"
)

const (
	// How long to wait for the MQ client to finish connecting before a
	// consume attempt.
	consumeRetryDelay = 2 * time.Second

	// How many consume attempts to make before giving up on startup.
	consumeRetryAttempts = 5
)

// ChamberStore is the slice of the store the bridge needs.
type ChamberStore interface {
	ChamberBySerial(ctx context.Context, serial string) (*store.Chamber, error)
	TouchChamber(ctx context.Context, chamberID uint, seenAt time.Time) error
	InsertReading(ctx context.Context, reading *store.SensorReading) error
	InsertDeviceEvent(ctx context.Context, event *store.DeviceEvent) error
}

// Broadcaster delivers normalized readings to room members. Implemented by
// the hub.
type Broadcaster interface {
	Publish(chamberID uint, reading hub.Reading)
}

// telemetryPayload is the validated shape of inbound telemetry. The four
// channels are required; the timestamp is optional and defaults to arrival
// time.
type telemetryPayload struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"co2"`
	Ethylene    *float64 `json:"ethylene"`
	Timestamp   string   `json:"timestamp"`
}

func (p *telemetryPayload) complete() bool {
	return p.Temperature != nil && p.Humidity != nil && p.CO2 != nil && p.Ethylene != nil
}

// Bridge consumes telemetry from RabbitMQ and feeds the store and the hub.
type Bridge struct {
	logger      *slog.Logger
	store       ChamberStore
	broadcaster Broadcaster
	mqClient    mq.ClientInterface
	done        chan struct{}
	metrics     *metrics.BridgeMetrics // Optional metrics
}

// Config holds the configuration for the Bridge.
type Config struct {
	Logger      *slog.Logger
	Store       ChamberStore
	Broadcaster Broadcaster
	MQClient    mq.ClientInterface
}

// New creates a new Bridge instance.
func New(cfg *Config) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.New("bridge config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	if cfg.MQClient == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	return &Bridge{
		logger:      cfg.Logger,
		store:       cfg.Store,
		broadcaster: cfg.Broadcaster,
		mqClient:    cfg.MQClient,
		done:        make(chan struct{}),
	}, nil
}

// SetMetrics sets the metrics collector for this bridge.
func (b *Bridge) SetMetrics(m *metrics.BridgeMetrics) {
	b.metrics = m
}

// Start begins consuming telemetry messages.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info("starting ingestion bridge")

	var deliveries <-chan amqp.Delivery
	var err error
	for attempt := 1; ; attempt++ {
		deliveries, err = b.mqClient.Consume()
		if err == nil {
			break
		}
		if attempt >= consumeRetryAttempts {
			return fmt.Errorf("failed to start consuming: %w", err)
		}
		b.logger.Info("mq client not ready, retrying consume",
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(consumeRetryDelay):
		}
	}

	b.logger.Info("ingestion bridge started, waiting for telemetry")

	go b.processMessages(ctx, deliveries)

	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (b *Bridge) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("context canceled, stopping telemetry processing")
			close(b.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				b.logger.Warn("deliveries channel closed")
				close(b.done)
				return
			}

			b.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery walks one message through parse, resolve, persist, and
// broadcast. Malformed payloads and unknown serials are logged and dropped
// without retry; only store unavailability requeues a message.
func (b *Bridge) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var timer *prometheus.Timer
	if b.metrics != nil {
		timer = prometheus.NewTimer(b.metrics.ProcessingDuration)
		defer timer.ObserveDuration()
	}

	serial, ok := serialFromRoutingKey(delivery.RoutingKey)
	if !ok {
		b.logger.Warn("dropping message with unroutable key",
			"routing_key", delivery.RoutingKey,
		)
		b.countOutcome("malformed")
		b.ack(delivery)
		return
	}

	var payload telemetryPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil || !payload.complete() {
		b.logger.Warn("dropping malformed telemetry payload",
			"serial", serial,
			"error", err,
		)
		b.countOutcome("malformed")
		b.ack(delivery)
		return
	}

	chamber, err := b.store.ChamberBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Telemetry from unprovisioned or decommissioned chambers is
			// discarded, not queued.
			b.logger.Warn("dropping telemetry for unknown chamber", "serial", serial)
			b.countOutcome("unknown_chamber")
			b.ack(delivery)
			return
		}
		b.logger.Error("failed to resolve chamber",
			"serial", serial,
			"error", err,
		)
		b.countOutcome("store_error")
		b.nack(delivery)
		return
	}

	arrivedAt := time.Now().UTC()
	timestamp := arrivedAt
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			timestamp = parsed.UTC()
		}
	}

	reading := &store.SensorReading{
		ChamberID:   chamber.ID,
		Temperature: *payload.Temperature,
		Humidity:    *payload.Humidity,
		CO2:         *payload.CO2,
		Ethylene:    *payload.Ethylene,
		Timestamp:   timestamp,
	}

	// The reading must be durable before the chamber advertises liveness.
	if err := b.store.InsertReading(ctx, reading); err != nil {
		b.logger.Error("failed to persist reading",
			"serial", serial,
			"chamber_id", chamber.ID,
			"error", err,
		)
		b.countOutcome("store_error")
		b.nack(delivery)
		return
	}
	if b.metrics != nil {
		b.metrics.ReadingsPersisted.Inc()
	}

	if err := b.store.TouchChamber(ctx, chamber.ID, arrivedAt); err != nil {
		// The reading is durable; liveness catches up on the next message.
		b.logger.Error("failed to update chamber liveness",
			"chamber_id", chamber.ID,
			"error", err,
		)
	} else if chamber.Status != store.StatusOnline {
		b.recordOnlineTransition(ctx, chamber.ID, arrivedAt)
	}

	b.broadcaster.Publish(chamber.ID, hub.Reading{
		ChamberID:   chamber.ID,
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		CO2:         reading.CO2,
		Ethylene:    reading.Ethylene,
		Timestamp:   reading.Timestamp,
	})

	b.countOutcome("persisted")
	b.ack(delivery)

	b.logger.Debug("reading processed",
		"serial", serial,
		"chamber_id", chamber.ID,
	)
}

// recordOnlineTransition writes a device event for a chamber coming online.
func (b *Bridge) recordOnlineTransition(ctx context.Context, chamberID uint, at time.Time) {
	if b.metrics != nil {
		b.metrics.OnlineTransitions.Inc()
	}
	event := &store.DeviceEvent{
		ChamberID:      chamberID,
		EventType:      store.StatusOnline,
		Message:        "chamber came online",
		EventTimestamp: at,
	}
	if err := b.store.InsertDeviceEvent(ctx, event); err != nil {
		b.logger.Error("failed to record online event",
			"chamber_id", chamberID,
			"error", err,
		)
	}
}

func (b *Bridge) countOutcome(outcome string) {
	if b.metrics != nil {
		b.metrics.MessagesTotal.WithLabelValues(outcome).Inc()
	}
}

func (b *Bridge) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		b.logger.Error("failed to ack message", "error", err)
	}
}

func (b *Bridge) nack(delivery amqp.Delivery) {
	if err := delivery.Nack(false, true); err != nil {
		b.logger.Error("failed to nack message", "error", err)
	}
}

// Stop stops the bridge and closes the MQ client.
func (b *Bridge) Stop() error {
	b.logger.Info("stopping ingestion bridge")

	if err := b.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-b.done

	b.logger.Info("ingestion bridge stopped")
	return nil
}

// serialFromRoutingKey extracts the chamber serial from a
// "chambers.<serial>.data" routing key.
func serialFromRoutingKey(key string) (string, bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != "chambers" || parts[2] != "data" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
