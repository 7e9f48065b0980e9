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

var (
	ErrNotFound  = errors.New("not found")
	ErrMissingID = errors.New("missing patient id")
)

// Store keeps samples, patients, scores and alerts in one gorm database.
// All methods are safe for concurrent use, row level atomicity is left to the
// database.
type Store struct {
	db *gorm.DB
}

func New(connect ConnectorFunc) (*Store, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Patient{}, &Sample{}, &Score{}, &ThresholdAlert{}, &ManualAlert{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: impl}, nil
}

func (s *Store) Close() error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func (s *Store) AddSample(ctx context.Context, sample types.Sample) error {
	if sample.PatientID == "" {
		return ErrMissingID
	}

	return s.db.WithContext(ctx).Create(&Sample{
		PatientID:  sample.PatientID,
		Value:      sample.Value,
		CapturedAt: sample.CapturedAt.UTC(),
	}).Error
}

// SamplesSince returns the samples captured at or after since, oldest first.
func (s *Store) SamplesSince(ctx context.Context, patientID string, since time.Time) ([]types.Sample, error) {
	rows := []Sample{}

	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND captured_at >= ?", patientID, since.UTC()).
		Order("captured_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(r Sample, _ int) types.Sample { return r.model() }), nil
}

func (s *Store) AddPatient(ctx context.Context, patient types.Patient) (types.Patient, error) {
	if patient.ID == "" {
		patient.ID = uuid.NewString()
	}
	if patient.Status == "" {
		patient.Status = types.PatientStatusActive
	}
	if patient.AdmittedAt.IsZero() {
		patient.AdmittedAt = time.Now().UTC()
	}

	p := Patient{
		ID:                 patient.ID,
		Name:               patient.Name,
		Room:               patient.Room,
		BaselineTemp:       patient.BaselineTemp,
		ReasonForAdmission: patient.ReasonForAdmission,
		AdmittedAt:         patient.AdmittedAt.UTC(),
		Status:             patient.Status,
	}

	err := s.db.WithContext(ctx).Create(&p).Error
	if err != nil {
		return types.Patient{}, err
	}

	return p.model(), nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (types.Patient, error) {
	p := Patient{}

	err := s.db.WithContext(ctx).Where("id = ?", patientID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Patient{}, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
		}
		return types.Patient{}, err
	}

	return p.model(), nil
}

func (s *Store) GetPatients(ctx context.Context) ([]types.Patient, error) {
	return s.queryPatients(s.db.WithContext(ctx))
}

func (s *Store) ActivePatients(ctx context.Context) ([]types.Patient, error) {
	return s.queryPatients(s.db.WithContext(ctx).Where("status = ?", types.PatientStatusActive))
}

func (s *Store) queryPatients(tx *gorm.DB) ([]types.Patient, error) {
	rows := []Patient{}

	err := tx.Order("room asc, name asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(r Patient, _ int) types.Patient { return r.model() }), nil
}

func (s *Store) UpdatePatientStatus(ctx context.Context, patientID, status string) error {
	result := s.db.WithContext(ctx).Model(&Patient{}).Where("id = ?", patientID).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	return nil
}

func (s *Store) AddScore(ctx context.Context, score types.Score) error {
	if score.PatientID == "" {
		return ErrMissingID
	}

	return s.db.WithContext(ctx).Create(&Score{
		PatientID:  score.PatientID,
		Value:      score.Value,
		ComputedAt: score.ComputedAt.UTC(),
	}).Error
}

func (s *Store) LatestScore(ctx context.Context, patientID string) (types.Score, error) {
	row := Score{}

	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("computed_at desc, id desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Score{}, ErrNotFound
		}
		return types.Score{}, err
	}

	return row.model(), nil
}

// ScoresSince returns the scores computed at or after since, newest first.
func (s *Store) ScoresSince(ctx context.Context, patientID string, since time.Time) ([]types.Score, error) {
	rows := []Score{}

	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND computed_at >= ?", patientID, since.UTC()).
		Order("computed_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(r Score, _ int) types.Score { return r.model() }), nil
}
