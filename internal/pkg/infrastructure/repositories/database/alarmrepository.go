package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/diwise/vitals-monitor/pkg/types"
)

// RecentThresholdAlert returns the newest alert of the given kind for the
// patient that was triggered at or after since.
func (s *Store) RecentThresholdAlert(ctx context.Context, patientID string, kind types.AlertKind, since time.Time) (types.ThresholdAlert, error) {
	row := ThresholdAlert{}

	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND kind = ? AND triggered_at >= ?", patientID, string(kind), since.UTC()).
		Order("triggered_at desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ThresholdAlert{}, ErrNotFound
		}
		return types.ThresholdAlert{}, err
	}

	return row.model(), nil
}

func (s *Store) AddThresholdAlert(ctx context.Context, alert types.ThresholdAlert) (types.ThresholdAlert, error) {
	if alert.PatientID == "" {
		return types.ThresholdAlert{}, ErrMissingID
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	row := ThresholdAlert{
		ID:           alert.ID,
		PatientID:    alert.PatientID,
		Kind:         string(alert.Kind),
		TriggeredAt:  alert.TriggeredAt.UTC(),
		Score:        alert.Score,
		Acknowledged: alert.Acknowledged,
	}

	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		return types.ThresholdAlert{}, err
	}

	return row.model(), nil
}

func (s *Store) AcknowledgeThresholdAlert(ctx context.Context, alertID string) error {
	result := s.db.WithContext(ctx).Model(&ThresholdAlert{}).Where("id = ?", alertID).Update("acknowledged", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}

// ThresholdAlertsSince returns alerts triggered at or after since, newest first.
func (s *Store) ThresholdAlertsSince(ctx context.Context, patientID string, since time.Time) ([]types.ThresholdAlert, error) {
	rows := []ThresholdAlert{}

	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND triggered_at >= ?", patientID, since.UTC()).
		Order("triggered_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(r ThresholdAlert, _ int) types.ThresholdAlert { return r.model() }), nil
}

func (s *Store) AddManualAlert(ctx context.Context, alert types.ManualAlert) (types.ManualAlert, error) {
	if alert.PatientID == "" {
		return types.ManualAlert{}, ErrMissingID
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	row := ManualAlert{
		ID:          alert.ID,
		PatientID:   alert.PatientID,
		TriggeredAt: alert.TriggeredAt.UTC(),
		Message:     alert.Message,
	}

	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		return types.ManualAlert{}, err
	}

	return row.model(), nil
}

func (s *Store) GetManualAlert(ctx context.Context, alertID string) (types.ManualAlert, error) {
	row := ManualAlert{}

	err := s.db.WithContext(ctx).Where("id = ?", alertID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ManualAlert{}, fmt.Errorf("manual alert %s: %w", alertID, ErrNotFound)
		}
		return types.ManualAlert{}, err
	}

	return row.model(), nil
}

// MarkManualAlertAcknowledged stores the acknowledgment if, and only if, the
// alert has not been acknowledged before. The returned bool reports whether
// this call was the one that acknowledged it.
func (s *Store) MarkManualAlertAcknowledged(ctx context.Context, alertID string, acknowledgedAt time.Time, responseTimeSeconds float64, acknowledgerID *string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&ManualAlert{}).
		Where("id = ? AND acknowledged = ?", alertID, false).
		Updates(map[string]any{
			"acknowledged":          true,
			"acknowledged_at":       acknowledgedAt.UTC(),
			"response_time_seconds": responseTimeSeconds,
			"acknowledger_id":       acknowledgerID,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// UnacknowledgedManualAlerts returns open manual alerts, newest first. An empty
// patientID returns open alerts for all patients.
func (s *Store) UnacknowledgedManualAlerts(ctx context.Context, patientID string) ([]types.ManualAlert, error) {
	rows := []ManualAlert{}

	tx := s.db.WithContext(ctx).Where("acknowledged = ?", false)
	if patientID != "" {
		tx = tx.Where("patient_id = ?", patientID)
	}

	err := tx.Order("triggered_at desc").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(r ManualAlert, _ int) types.ManualAlert { return r.model() }), nil
}

func (s *Store) ManualAlertsSince(ctx context.Context, patientID string, since time.Time) ([]types.ManualAlert, error) {
	rows := []ManualAlert{}

	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND triggered_at >= ?", patientID, since.UTC()).
		Order("triggered_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(r ManualAlert, _ int) types.ManualAlert { return r.model() }), nil
}
