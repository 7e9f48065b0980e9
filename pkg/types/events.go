package types

import (
	"encoding/json"
	"time"
)

type ThresholdAlertCreated struct {
	Alert     ThresholdAlert `json:"alert"`
	Timestamp time.Time      `json:"timestamp"`
}

func (a *ThresholdAlertCreated) ContentType() string {
	return "application/json"
}
func (a *ThresholdAlertCreated) TopicName() string {
	return "alerts.thresholdAlertCreated"
}
func (a *ThresholdAlertCreated) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type ManualAlertTriggered struct {
	Alert     ManualAlert `json:"alert"`
	Name      string      `json:"name,omitempty"`
	Room      string      `json:"room,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (a *ManualAlertTriggered) ContentType() string {
	return "application/json"
}
func (a *ManualAlertTriggered) TopicName() string {
	return "alerts.manualAlertTriggered"
}
func (a *ManualAlertTriggered) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type ManualAlertAcknowledged struct {
	Alert     ManualAlert `json:"alert"`
	Timestamp time.Time   `json:"timestamp"`
}

func (a *ManualAlertAcknowledged) ContentType() string {
	return "application/json"
}
func (a *ManualAlertAcknowledged) TopicName() string {
	return "alerts.manualAlertAcknowledged"
}
func (a *ManualAlertAcknowledged) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

// HelpRequest is the structured notification pushed to live viewers when a
// patient presses the call button.
type HelpRequest struct {
	Type      string `json:"type"`
	PatientID string `json:"patientID"`
	AlertID   string `json:"alertID,omitempty"`
	Name      string `json:"name"`
	Room      string `json:"room"`
}

const HelpRequestType string = "HELP_REQUEST"
