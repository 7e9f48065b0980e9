package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/vitals-monitor/internal/pkg/application/events"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/vitals-monitor/pkg/types"
)

const DefaultManualAlertMessage string = "Patient pressed call button"

var ErrAlertNotFound = fmt.Errorf("alert not found")

type AlertService interface {
	EvaluateScore(ctx context.Context, patientID string, score float64) (*types.ThresholdAlert, error)
	Raise(ctx context.Context, patientID string, kind types.AlertKind, score float64) (*types.ThresholdAlert, error)
	AcknowledgeThresholdAlert(ctx context.Context, alertID string) error
	ThresholdAlerts(ctx context.Context, patientID string, since time.Time) ([]types.ThresholdAlert, error)

	TriggerManualAlert(ctx context.Context, patient types.Patient, message string) (types.ManualAlert, error)
	AcknowledgeManualAlert(ctx context.Context, alertID string, acknowledgerID *string) (types.ManualAlert, error)
	UnacknowledgedManualAlerts(ctx context.Context, patientID string) ([]types.ManualAlert, error)
	ManualAlerts(ctx context.Context, patientID string, since time.Time) ([]types.ManualAlert, error)
}

type AlertRepository interface {
	RecentThresholdAlert(ctx context.Context, patientID string, kind types.AlertKind, since time.Time) (types.ThresholdAlert, error)
	AddThresholdAlert(ctx context.Context, alert types.ThresholdAlert) (types.ThresholdAlert, error)
	AcknowledgeThresholdAlert(ctx context.Context, alertID string) error
	ThresholdAlertsSince(ctx context.Context, patientID string, since time.Time) ([]types.ThresholdAlert, error)

	AddManualAlert(ctx context.Context, alert types.ManualAlert) (types.ManualAlert, error)
	GetManualAlert(ctx context.Context, alertID string) (types.ManualAlert, error)
	MarkManualAlertAcknowledged(ctx context.Context, alertID string, acknowledgedAt time.Time, responseTimeSeconds float64, acknowledgerID *string) (bool, error)
	UnacknowledgedManualAlerts(ctx context.Context, patientID string) ([]types.ManualAlert, error)
	ManualAlertsSince(ctx context.Context, patientID string, since time.Time) ([]types.ManualAlert, error)
}

type Config struct {
	Red      float64       `yaml:"red"`
	Yellow   float64       `yaml:"yellow"`
	Cooldown time.Duration `yaml:"cooldown"`
}

func DefaultConfig() Config {
	return Config{
		Red:      8.0,
		Yellow:   5.0,
		Cooldown: 2 * time.Hour,
	}
}

// KindForScore maps a variability score to the alert it should raise, if any.
func (c Config) KindForScore(score float64) (types.AlertKind, bool) {
	switch {
	case score >= c.Red:
		return types.AlertKindRed, true
	case score >= c.Yellow:
		return types.AlertKindYellow, true
	default:
		return "", false
	}
}

// Tier maps a score to the dashboard bucket it belongs in.
func (c Config) Tier(score float64) types.Tier {
	kind, ok := c.KindForScore(score)
	if !ok {
		return types.TierGreen
	}
	if kind == types.AlertKindRed {
		return types.TierRed
	}
	return types.TierYellow
}

type Option func(*alertSvc)

func WithClock(now func() time.Time) Option {
	return func(svc *alertSvc) {
		svc.now = now
	}
}

type alertSvc struct {
	storage AlertRepository
	sender  events.Sender
	config  Config
	now     func() time.Time
}

func New(r AlertRepository, s events.Sender, cfg Config, options ...Option) AlertService {
	svc := &alertSvc{
		storage: r,
		sender:  s,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range options {
		opt(svc)
	}

	return svc
}

func (svc *alertSvc) EvaluateScore(ctx context.Context, patientID string, score float64) (*types.ThresholdAlert, error) {
	kind, ok := svc.config.KindForScore(score)
	if !ok {
		return nil, nil
	}

	return svc.Raise(ctx, patientID, kind, score)
}

// Raise creates a new threshold alert unless one of the same kind was raised
// for the patient within the cooldown window, in which case it returns nil.
// The lookup and the insert are separate operations, so two concurrent callers
// may both create an alert.
func (svc *alertSvc) Raise(ctx context.Context, patientID string, kind types.AlertKind, score float64) (*types.ThresholdAlert, error) {
	now := svc.now()
	log := logging.GetLoggerFromContext(ctx).With().Str("patientID", patientID).Str("kind", string(kind)).Logger()

	recent, err := svc.storage.RecentThresholdAlert(ctx, patientID, kind, now.Add(-svc.config.Cooldown))
	if err == nil {
		log.Debug().Msgf("suppressing alert, %s alert %s raised at %s", kind, recent.ID, recent.TriggeredAt.Format(time.RFC3339))
		return nil, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("could not look up recent alerts: %w", err)
	}

	alert, err := svc.storage.AddThresholdAlert(ctx, types.ThresholdAlert{
		PatientID:   patientID,
		Kind:        kind,
		TriggeredAt: now,
		Score:       score,
	})
	if err != nil {
		return nil, fmt.Errorf("could not store alert: %w", err)
	}

	log.Info().Msgf("%s alert raised with score %.2f", kind, score)

	err = svc.sender.Send(ctx, &types.ThresholdAlertCreated{Alert: alert, Timestamp: now})
	if err != nil {
		log.Error().Err(err).Msg("could not send alert notification")
	}

	return &alert, nil
}

func (svc *alertSvc) AcknowledgeThresholdAlert(ctx context.Context, alertID string) error {
	err := svc.storage.AcknowledgeThresholdAlert(ctx, alertID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrAlertNotFound
	}
	return err
}

func (svc *alertSvc) ThresholdAlerts(ctx context.Context, patientID string, since time.Time) ([]types.ThresholdAlert, error) {
	return svc.storage.ThresholdAlertsSince(ctx, patientID, since)
}

func (svc *alertSvc) TriggerManualAlert(ctx context.Context, patient types.Patient, message string) (types.ManualAlert, error) {
	if message == "" {
		message = DefaultManualAlertMessage
	}

	now := svc.now()

	alert, err := svc.storage.AddManualAlert(ctx, types.ManualAlert{
		PatientID:   patient.ID,
		TriggeredAt: now,
		Message:     message,
	})
	if err != nil {
		return types.ManualAlert{}, fmt.Errorf("could not store manual alert: %w", err)
	}

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Str("patientID", patient.ID).Str("alertID", alert.ID).Msg("manual alert triggered")

	err = svc.sender.Send(ctx, &types.ManualAlertTriggered{
		Alert:     alert,
		Name:      patient.Name,
		Room:      patient.Room,
		Timestamp: now,
	})
	if err != nil {
		log.Error().Err(err).Msg("could not send manual alert notification")
	}

	return alert, nil
}

// AcknowledgeManualAlert records who responded to a manual alert and how long
// it took. Only the first acknowledgment is stored, later calls return the
// alert as it was first acknowledged.
func (svc *alertSvc) AcknowledgeManualAlert(ctx context.Context, alertID string, acknowledgerID *string) (types.ManualAlert, error) {
	alert, err := svc.storage.GetManualAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.ManualAlert{}, ErrAlertNotFound
		}
		return types.ManualAlert{}, err
	}

	if alert.Acknowledged {
		return alert, nil
	}

	now := svc.now()

	responseTime := now.Sub(alert.TriggeredAt).Seconds()
	if responseTime < 0 {
		responseTime = 0
	}

	won, err := svc.storage.MarkManualAlertAcknowledged(ctx, alertID, now, responseTime, acknowledgerID)
	if err != nil {
		return types.ManualAlert{}, err
	}

	alert, err = svc.storage.GetManualAlert(ctx, alertID)
	if err != nil {
		return types.ManualAlert{}, err
	}

	if won {
		err = svc.sender.Send(ctx, &types.ManualAlertAcknowledged{Alert: alert, Timestamp: now})
		if err != nil {
			log := logging.GetLoggerFromContext(ctx)
			log.Error().Err(err).Msg("could not send acknowledgment notification")
		}
	}

	return alert, nil
}

func (svc *alertSvc) UnacknowledgedManualAlerts(ctx context.Context, patientID string) ([]types.ManualAlert, error) {
	return svc.storage.UnacknowledgedManualAlerts(ctx, patientID)
}

func (svc *alertSvc) ManualAlerts(ctx context.Context, patientID string, since time.Time) ([]types.ManualAlert, error) {
	return svc.storage.ManualAlertsSince(ctx, patientID, since)
}
