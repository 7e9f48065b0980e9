package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"

	"github.com/diwise/vitals-monitor/internal/pkg/application/variability"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/vitals-monitor/pkg/types"
)

var tracer = otel.Tracer("vitals-monitor/scoring")

type Config struct {
	Period           time.Duration `yaml:"period"`
	Window           time.Duration `yaml:"window"`
	MinSamples       int           `yaml:"minSamples"`
	OutlierThreshold float64       `yaml:"outlierThreshold"`
	PatientTimeout   time.Duration `yaml:"patientTimeout"`
}

func DefaultConfig() Config {
	return Config{
		Period:           6 * time.Hour,
		Window:           24 * time.Hour,
		MinSamples:       11,
		OutlierThreshold: variability.DefaultOutlierThreshold,
		PatientTimeout:   time.Minute,
	}
}

type Store interface {
	ActivePatients(ctx context.Context) ([]types.Patient, error)
	SamplesSince(ctx context.Context, patientID string, since time.Time) ([]types.Sample, error)
	AddScore(ctx context.Context, score types.Score) error
}

type ScoreEvaluator interface {
	EvaluateScore(ctx context.Context, patientID string, score float64) (*types.ThresholdAlert, error)
}

type Cycle interface {
	Start(ctx context.Context)
	Stop()
	RunOnce(ctx context.Context) error
}

type cycle struct {
	store  Store
	alerts ScoreEvaluator
	config Config
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store Store, alerts ScoreEvaluator, cfg Config) Cycle {
	return &cycle{
		store:  store,
		alerts: alerts,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a first pass right away and then one pass per period until Stop
// is called or ctx is cancelled.
func (c *cycle) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run(ctx)
}

func (c *cycle) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *cycle) run(ctx context.Context) {
	defer c.wg.Done()

	log := logging.GetLoggerFromContext(ctx)

	ticker := time.NewTicker(c.config.Period)
	defer ticker.Stop()

	for {
		if err := c.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("scoring pass failed")
		}

		log.Debug().Msgf("next scoring pass in %s", c.config.Period)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce scores every active patient. A failure for one patient is logged and
// does not stop the others.
func (c *cycle) RunOnce(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "scoring-pass")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)

	patients, err := c.store.ActivePatients(ctx)
	if err != nil {
		return fmt.Errorf("could not list active patients: %w", err)
	}

	scored := 0

	for _, p := range patients {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ok, err := c.scorePatient(ctx, p.ID)
		if err != nil {
			log.Error().Err(err).Str("patientID", p.ID).Msg("failed to score patient")
		}
		if ok {
			scored++
		}
	}

	log.Info().Msgf("scored %d of %d active patients", scored, len(patients))

	return nil
}

func (c *cycle) scorePatient(ctx context.Context, patientID string) (scored bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			scored = false
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.config.PatientTimeout)
	defer cancel()

	ctx, log := logging.WithPatient(ctx, patientID)

	now := c.now()

	samples, err := c.store.SamplesSince(ctx, patientID, now.Add(-c.config.Window))
	if err != nil {
		return false, fmt.Errorf("could not fetch samples: %w", err)
	}

	if len(samples) < c.config.MinSamples {
		log.Debug().Msgf("only %d samples in window, skipping", len(samples))
		return false, nil
	}

	values := lo.Map(samples, func(s types.Sample, _ int) float64 {
		return s.Value
	})

	filtered, outliers, err := variability.FilterOutliersContext(ctx, values, c.config.OutlierThreshold)
	if err != nil {
		return false, fmt.Errorf("could not filter outliers: %w", err)
	}

	value := variability.Score(filtered)

	err = c.store.AddScore(ctx, types.Score{
		PatientID:  patientID,
		Value:      value,
		ComputedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("could not store score: %w", err)
	}

	log.Debug().Msgf("score %.3f from %d samples (%d outliers removed)", value, len(values), outliers)

	_, err = c.alerts.EvaluateScore(ctx, patientID, value)
	if err != nil {
		return true, fmt.Errorf("could not evaluate score: %w", err)
	}

	return true, nil
}
