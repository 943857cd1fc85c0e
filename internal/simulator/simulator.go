// Package simulator generates synthetic ripening-chamber telemetry and
// publishes it to the broker, for demos and end-to-end testing.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"fruitripe.dev/chamber-hub/pkg/mq"
)

// telemetry is the JSON wire shape of a published reading.
type telemetry struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	CO2         float64 `json:"co2"`
	Ethylene    float64 `json:"ethylene"`
	Timestamp   string  `json:"timestamp"`
}

// ChamberProfile models one simulated chamber: a serial plus baselines the
// generated curves wander around.
type ChamberProfile struct {
	Serial string

	baselineTemp     float64
	baselineHumidity float64
	baselineCO2      float64
	ripeness         float64 // Advances each sample; drives ethylene and CO2 drift
	noise            float64
}

// NewChamberProfile creates a profile. An empty serial gets a generated one.
// Note: uses math/rand; weak randomness is acceptable for simulation data.
func NewChamberProfile(serial string) *ChamberProfile {
	if serial == "" {
		serial = fmt.Sprintf("FR-%s-%03d", gofakeit.LetterN(4), gofakeit.Number(1, 999))
	}

	return &ChamberProfile{
		Serial:           serial,
		baselineTemp:     16.0 + rand.Float64()*6,   // 16-22°C ripening range
		baselineHumidity: 85.0 + rand.Float64()*10,  // 85-95% RH
		baselineCO2:      500.0 + rand.Float64()*300, // ppm
		ripeness:         rand.Float64() * 0.3,
		noise:            rand.Float64() * 2,
	}
}

// Next produces one telemetry sample and advances the ripening curve.
func (p *ChamberProfile) Next(t time.Time) telemetry {
	hour := float64(t.Hour())

	// Mild daily cycle around the setpoint.
	dailyCycle := 1.5 * math.Sin((hour-6)*math.Pi/12)
	temp := p.baselineTemp + dailyCycle + (rand.Float64()-0.5)*p.noise

	// Humidity moves inversely to temperature.
	humidity := p.baselineHumidity - dailyCycle + (rand.Float64()-0.5)*p.noise
	humidity = math.Min(100, math.Max(0, humidity))

	// Respiration climbs as fruit ripens.
	p.ripeness = math.Min(1, p.ripeness+0.001)
	co2 := p.baselineCO2 + p.ripeness*800 + (rand.Float64()-0.5)*50
	ethylene := p.ripeness*120 + rand.Float64()*5

	return telemetry{
		Temperature: temp,
		Humidity:    humidity,
		CO2:         co2,
		Ethylene:    ethylene,
		Timestamp:   t.UTC().Format(time.RFC3339),
	}
}

// Simulator publishes telemetry for a set of chamber profiles at a fixed
// interval.
type Simulator struct {
	logger   *slog.Logger
	client   mq.ClientInterface
	profiles []*ChamberProfile
	interval time.Duration
}

// Config holds the configuration for the Simulator.
type Config struct {
	Logger *slog.Logger
	Client mq.ClientInterface
	// Serials lists the chamber serials to simulate. Empty entries get
	// generated serials.
	Serials []string
	// Interval is the publish period per chamber.
	Interval time.Duration
}

// New creates a new Simulator instance.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if len(cfg.Serials) == 0 {
		return nil, errors.New("at least one chamber serial is required")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	profiles := make([]*ChamberProfile, 0, len(cfg.Serials))
	for _, serial := range cfg.Serials {
		profiles = append(profiles, NewChamberProfile(serial))
	}

	return &Simulator{
		logger:   cfg.Logger,
		client:   cfg.Client,
		profiles: profiles,
		interval: cfg.Interval,
	}, nil
}

// Run publishes readings until the context is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("starting telemetry simulator",
		"chambers", len(s.profiles),
		"interval", s.interval,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry simulator stopped")
			return ctx.Err()
		case now := <-ticker.C:
			for _, profile := range s.profiles {
				s.publish(ctx, profile, now)
			}
		}
	}
}

// publish sends one sample for one chamber.
func (s *Simulator) publish(ctx context.Context, profile *ChamberProfile, now time.Time) {
	sample := profile.Next(now)

	body, err := json.Marshal(sample)
	if err != nil {
		s.logger.Error("failed to marshal telemetry", "error", err)
		return
	}

	routingKey := fmt.Sprintf("chambers.%s.data", profile.Serial)
	if err := s.client.Push(ctx, routingKey, body); err != nil {
		s.logger.Error("failed to publish telemetry",
			"serial", profile.Serial,
			"error", err,
		)
		return
	}

	s.logger.Debug("telemetry published",
		"serial", profile.Serial,
		"temperature", sample.Temperature,
	)
}
