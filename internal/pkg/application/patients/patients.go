package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/diwise/vitals-monitor/internal/pkg/application/alerts"
	"github.com/diwise/vitals-monitor/internal/pkg/application/variability"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/vitals-monitor/pkg/types"
)

var (
	ErrPatientNotFound = fmt.Errorf("patient not found")
	ErrInvalidPatient  = fmt.Errorf("invalid patient")
	ErrInvalidStatus   = fmt.Errorf("invalid status")
)

const (
	historyWindow     time.Duration = 7 * 24 * time.Hour
	manualAlertWindow time.Duration = 24 * time.Hour
	variabilityWindow time.Duration = 24 * time.Hour
)

type PatientService interface {
	Create(ctx context.Context, patient types.Patient) (types.Patient, error)
	Get(ctx context.Context, patientID string) (types.Patient, error)
	List(ctx context.Context) ([]types.Patient, error)
	SetStatus(ctx context.Context, patientID, status string) (types.Patient, error)

	Dashboard(ctx context.Context) (types.Dashboard, error)
	Detail(ctx context.Context, patientID string) (types.PatientDetail, error)
	Variability(ctx context.Context, patientID string) (types.Variability, error)
}

type PatientRepository interface {
	AddPatient(ctx context.Context, patient types.Patient) (types.Patient, error)
	GetPatient(ctx context.Context, patientID string) (types.Patient, error)
	GetPatients(ctx context.Context) ([]types.Patient, error)
	ActivePatients(ctx context.Context) ([]types.Patient, error)
	UpdatePatientStatus(ctx context.Context, patientID, status string) error

	LatestScore(ctx context.Context, patientID string) (types.Score, error)
	ScoresSince(ctx context.Context, patientID string, since time.Time) ([]types.Score, error)
	SamplesSince(ctx context.Context, patientID string, since time.Time) ([]types.Sample, error)
}

type patientSvc struct {
	storage          PatientRepository
	alerts           alerts.AlertService
	tiers            alerts.Config
	outlierThreshold float64
	now              func() time.Time
}

func New(r PatientRepository, a alerts.AlertService, tiers alerts.Config, outlierThreshold float64) PatientService {
	return &patientSvc{
		storage:          r,
		alerts:           a,
		tiers:            tiers,
		outlierThreshold: outlierThreshold,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (svc *patientSvc) Create(ctx context.Context, patient types.Patient) (types.Patient, error) {
	patient.Name = strings.TrimSpace(patient.Name)
	if patient.Name == "" {
		return types.Patient{}, fmt.Errorf("%w: name is required", ErrInvalidPatient)
	}

	if patient.Status != "" && !validStatus(patient.Status) {
		return types.Patient{}, fmt.Errorf("%w: %s", ErrInvalidStatus, patient.Status)
	}

	if patient.ID != "" {
		_, err := svc.storage.GetPatient(ctx, patient.ID)
		if err == nil {
			return types.Patient{}, fmt.Errorf("%w: patient %s already exists", ErrInvalidPatient, patient.ID)
		}
	}

	return svc.storage.AddPatient(ctx, patient)
}

func (svc *patientSvc) Get(ctx context.Context, patientID string) (types.Patient, error) {
	p, err := svc.storage.GetPatient(ctx, patientID)
	return p, notFound(err)
}

func (svc *patientSvc) List(ctx context.Context) ([]types.Patient, error) {
	return svc.storage.GetPatients(ctx)
}

func (svc *patientSvc) SetStatus(ctx context.Context, patientID, status string) (types.Patient, error) {
	if !validStatus(status) {
		return types.Patient{}, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	err := svc.storage.UpdatePatientStatus(ctx, patientID, status)
	if err != nil {
		return types.Patient{}, notFound(err)
	}

	return svc.Get(ctx, patientID)
}

// Dashboard buckets the active patients by the tier of their latest score.
// Patients that have not been scored yet are green.
func (svc *patientSvc) Dashboard(ctx context.Context) (types.Dashboard, error) {
	patients, err := svc.storage.ActivePatients(ctx)
	if err != nil {
		return types.Dashboard{}, err
	}

	now := svc.now()

	items := make(map[types.Tier][]types.DashboardItem)

	for _, p := range patients {
		item := types.DashboardItem{
			ID:           p.ID,
			Name:         p.Name,
			Room:         p.Room,
			DaysAdmitted: p.DaysAdmitted(now),
		}

		score, err := svc.storage.LatestScore(ctx, p.ID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return types.Dashboard{}, err
		}
		item.Score = score.Value

		tier := svc.tiers.Tier(item.Score)
		items[tier] = append(items[tier], item)
	}

	return types.Dashboard{
		Red:    orEmpty(items[types.TierRed]),
		Yellow: orEmpty(items[types.TierYellow]),
		Green:  orEmpty(items[types.TierGreen]),
	}, nil
}

func (svc *patientSvc) Detail(ctx context.Context, patientID string) (types.PatientDetail, error) {
	p, err := svc.Get(ctx, patientID)
	if err != nil {
		return types.PatientDetail{}, err
	}

	now := svc.now()

	scores, err := svc.storage.ScoresSince(ctx, patientID, now.Add(-historyWindow))
	if err != nil {
		return types.PatientDetail{}, err
	}

	thresholdAlerts, err := svc.alerts.ThresholdAlerts(ctx, patientID, now.Add(-historyWindow))
	if err != nil {
		return types.PatientDetail{}, err
	}

	manualAlerts, err := svc.alerts.ManualAlerts(ctx, patientID, now.Add(-manualAlertWindow))
	if err != nil {
		return types.PatientDetail{}, err
	}

	return types.PatientDetail{
		Patient:      p,
		DaysAdmitted: p.DaysAdmitted(now),
		Scores:       orEmpty(scores),
		Alerts:       orEmpty(thresholdAlerts),
		ManualAlerts: orEmpty(manualAlerts),
	}, nil
}

// Variability scores the trailing day of samples on demand. Unlike the
// scoring cycle there is no minimum sample count and nothing is stored.
func (svc *patientSvc) Variability(ctx context.Context, patientID string) (types.Variability, error) {
	_, err := svc.Get(ctx, patientID)
	if err != nil {
		return types.Variability{}, err
	}

	samples, err := svc.storage.SamplesSince(ctx, patientID, svc.now().Add(-variabilityWindow))
	if err != nil {
		return types.Variability{}, err
	}

	result := types.Variability{
		PatientID: patientID,
		Count:     len(samples),
	}

	if len(samples) == 0 {
		return result, nil
	}

	values := lo.Map(samples, func(s types.Sample, _ int) float64 { return s.Value })

	filtered, outliers, err := variability.FilterOutliersContext(ctx, values, svc.outlierThreshold)
	if err != nil {
		return types.Variability{}, err
	}

	score := variability.Score(filtered)

	result.Score = &score
	result.Outliers = outliers

	return result, nil
}

func validStatus(status string) bool {
	return lo.Contains([]string{types.PatientStatusActive, types.PatientStatusInactive}, status)
}

func notFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrPatientNotFound
	}
	return err
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
