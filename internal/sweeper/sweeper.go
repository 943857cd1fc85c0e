// Package sweeper implements the presence sweep: the periodic transition of
// silent chambers to the offline state. It is the only path out of
// "online"; the ingestion bridge is the only path in.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fruitripe.dev/chamber-hub/internal/store"
	"fruitripe.dev/chamber-hub/pkg/metrics"
)

// StaleMarker is the slice of the store the sweeper needs.
type StaleMarker interface {
	MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]uint, error)
	InsertDeviceEvent(ctx context.Context, event *store.DeviceEvent) error
}

// Sweeper periodically marks silent chambers offline.
type Sweeper struct {
	logger    *slog.Logger
	store     StaleMarker
	interval  time.Duration
	threshold time.Duration
	done      chan struct{}
	metrics   *metrics.SweeperMetrics // Optional metrics
}

// Config holds the configuration for the Sweeper.
type Config struct {
	Logger *slog.Logger
	Store  StaleMarker
	// Interval is how often the sweep runs.
	Interval time.Duration
	// Threshold is the silence duration after which a chamber is considered
	// offline.
	Threshold time.Duration
}

// New creates a new Sweeper instance.
func New(cfg *Config) (*Sweeper, error) {
	if cfg == nil {
		return nil, errors.New("sweeper config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	if cfg.Threshold <= 0 {
		cfg.Threshold = 10 * time.Minute
	}

	return &Sweeper{
		logger:    cfg.Logger,
		store:     cfg.Store,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		done:      make(chan struct{}),
	}, nil
}

// SetMetrics sets the metrics collector for this sweeper.
func (s *Sweeper) SetMetrics(m *metrics.SweeperMetrics) {
	s.metrics = m
}

// Start launches the sweep loop. The loop stops when the context is
// canceled; a failed sweep is logged and the next scheduled run proceeds
// independently.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting presence sweeper",
		"interval", s.interval,
		"threshold", s.threshold,
	)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer func() {
			ticker.Stop()
			close(s.done)
		}()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("context canceled, stopping presence sweeper")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop blocks until the sweep loop has exited.
func (s *Sweeper) Stop() {
	<-s.done
	s.logger.Info("presence sweeper stopped")
}

// sweep transitions every chamber whose last-seen timestamp is strictly
// older than the silence threshold at scan time. A chamber touched by the
// bridge during the sweep keeps its fresh last_seen and stays online.
func (s *Sweeper) sweep(ctx context.Context) {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.SweepDuration)
		defer timer.ObserveDuration()
		s.metrics.SweepsTotal.Inc()
	}

	cutoff := time.Now().UTC().Add(-s.threshold)
	ids, err := s.store.MarkStaleOffline(ctx, cutoff)
	if err != nil {
		s.logger.Error("presence sweep failed", "error", err)
		if s.metrics != nil {
			s.metrics.SweepFailures.Inc()
		}
		return
	}

	if len(ids) == 0 {
		return
	}

	s.logger.Info("marked silent chambers offline", "count", len(ids))
	if s.metrics != nil {
		s.metrics.OfflineTransitions.Add(float64(len(ids)))
	}

	now := time.Now().UTC()
	for _, id := range ids {
		event := &store.DeviceEvent{
			ChamberID:      id,
			EventType:      store.StatusOffline,
			Message:        "chamber went offline after silence threshold",
			EventTimestamp: now,
		}
		if err := s.store.InsertDeviceEvent(ctx, event); err != nil {
			s.logger.Error("failed to record offline event",
				"chamber_id", id,
				"error", err,
			)
		}
	}
}
