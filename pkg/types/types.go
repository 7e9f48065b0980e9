package types

import (
	"time"
)

const (
	PatientStatusActive   string = "active"
	PatientStatusInactive string = "inactive"
)

type Patient struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Room               string    `json:"room"`
	BaselineTemp       float64   `json:"baselineTemp"`
	ReasonForAdmission string    `json:"reasonForAdmission,omitempty"`
	AdmittedAt         time.Time `json:"admittedAt"`
	Status             string    `json:"status"`
}

// DaysAdmitted returns the number of whole days between admission and now.
func (p Patient) DaysAdmitted(now time.Time) int {
	if p.AdmittedAt.IsZero() || now.Before(p.AdmittedAt) {
		return 0
	}
	return int(now.Sub(p.AdmittedAt).Hours() / 24)
}

type Sample struct {
	PatientID  string    `json:"patientID"`
	Value      float64   `json:"value"`
	CapturedAt time.Time `json:"capturedAt"`
}

type Score struct {
	PatientID  string    `json:"patientID"`
	Value      float64   `json:"score"`
	ComputedAt time.Time `json:"computedAt"`
}

type AlertKind string

const (
	AlertKindYellow AlertKind = "yellow"
	AlertKindRed    AlertKind = "red"
)

type Tier string

const (
	TierRed    Tier = "red"
	TierYellow Tier = "yellow"
	TierGreen  Tier = "green"
)

type ThresholdAlert struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patientID"`
	Kind         AlertKind `json:"type"`
	TriggeredAt  time.Time `json:"triggeredAt"`
	Score        float64   `json:"score"`
	Acknowledged bool      `json:"acknowledged"`
}

type ManualAlert struct {
	ID                  string     `json:"id"`
	PatientID           string     `json:"patientID"`
	TriggeredAt         time.Time  `json:"triggeredAt"`
	Message             string     `json:"message"`
	Acknowledged        bool       `json:"acknowledged"`
	AcknowledgedAt      *time.Time `json:"acknowledgedAt,omitempty"`
	ResponseTimeSeconds *float64   `json:"responseTimeSeconds,omitempty"`
	AcknowledgerID      *string    `json:"acknowledgerID,omitempty"`
}

type DashboardItem struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Room         string  `json:"room"`
	Score        float64 `json:"score"`
	DaysAdmitted int     `json:"daysAdmitted"`
}

type Dashboard struct {
	Red    []DashboardItem `json:"red"`
	Yellow []DashboardItem `json:"yellow"`
	Green  []DashboardItem `json:"green"`
}

type PatientDetail struct {
	Patient      Patient          `json:"patient"`
	DaysAdmitted int              `json:"daysAdmitted"`
	Scores       []Score          `json:"scores"`
	Alerts       []ThresholdAlert `json:"alerts"`
	ManualAlerts []ManualAlert    `json:"manualAlerts"`
}

type Variability struct {
	PatientID string   `json:"patientID"`
	Score     *float64 `json:"score"`
	Count     int      `json:"count"`
	Outliers  int      `json:"outliers"`
}
