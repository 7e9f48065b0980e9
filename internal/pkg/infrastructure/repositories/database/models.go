package database

import (
	"time"

	"github.com/diwise/vitals-monitor/pkg/types"
)

type Patient struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name               string
	Room               string
	BaselineTemp       float64
	ReasonForAdmission string
	AdmittedAt         time.Time
	Status             string `gorm:"index"`
}

type Sample struct {
	ID         uint      `gorm:"primarykey"`
	PatientID  string    `gorm:"not null;index:idx_samples_patient_time,priority:1"`
	Value      float64   `gorm:"not null"`
	CapturedAt time.Time `gorm:"not null;index:idx_samples_patient_time,priority:2"`
}

type Score struct {
	ID         uint      `gorm:"primarykey"`
	PatientID  string    `gorm:"not null;index:idx_scores_patient_time,priority:1"`
	Value      float64   `gorm:"not null"`
	ComputedAt time.Time `gorm:"not null;index:idx_scores_patient_time,priority:2"`
}

type ThresholdAlert struct {
	ID           string    `gorm:"primaryKey"`
	PatientID    string    `gorm:"not null;index:idx_threshold_alerts_lookup,priority:1"`
	Kind         string    `gorm:"not null;index:idx_threshold_alerts_lookup,priority:2"`
	TriggeredAt  time.Time `gorm:"not null;index:idx_threshold_alerts_lookup,priority:3"`
	Score        float64
	Acknowledged bool `gorm:"not null;default:false"`
}

type ManualAlert struct {
	ID                  string    `gorm:"primaryKey"`
	PatientID           string    `gorm:"not null;index:idx_manual_alerts_patient_time,priority:1"`
	TriggeredAt         time.Time `gorm:"not null;index:idx_manual_alerts_patient_time,priority:2"`
	Message             string
	Acknowledged        bool `gorm:"not null;default:false;index"`
	AcknowledgedAt      *time.Time
	ResponseTimeSeconds *float64
	AcknowledgerID      *string
}

func (p Patient) model() types.Patient {
	return types.Patient{
		ID:                 p.ID,
		Name:               p.Name,
		Room:               p.Room,
		BaselineTemp:       p.BaselineTemp,
		ReasonForAdmission: p.ReasonForAdmission,
		AdmittedAt:         p.AdmittedAt.UTC(),
		Status:             p.Status,
	}
}

func (s Sample) model() types.Sample {
	return types.Sample{
		PatientID:  s.PatientID,
		Value:      s.Value,
		CapturedAt: s.CapturedAt.UTC(),
	}
}

func (s Score) model() types.Score {
	return types.Score{
		PatientID:  s.PatientID,
		Value:      s.Value,
		ComputedAt: s.ComputedAt.UTC(),
	}
}

func (a ThresholdAlert) model() types.ThresholdAlert {
	return types.ThresholdAlert{
		ID:           a.ID,
		PatientID:    a.PatientID,
		Kind:         types.AlertKind(a.Kind),
		TriggeredAt:  a.TriggeredAt.UTC(),
		Score:        a.Score,
		Acknowledged: a.Acknowledged,
	}
}

func (a ManualAlert) model() types.ManualAlert {
	m := types.ManualAlert{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		TriggeredAt:         a.TriggeredAt.UTC(),
		Message:             a.Message,
		Acknowledged:        a.Acknowledged,
		ResponseTimeSeconds: a.ResponseTimeSeconds,
		AcknowledgerID:      a.AcknowledgerID,
	}

	if a.AcknowledgedAt != nil {
		at := a.AcknowledgedAt.UTC()
		m.AcknowledgedAt = &at
	}

	return m
}
