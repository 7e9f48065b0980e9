package application

import (
	"fmt"
	"io"

	yaml "gopkg.in/yaml.v2"

	"github.com/diwise/vitals-monitor/internal/pkg/application/alerts"
	"github.com/diwise/vitals-monitor/internal/pkg/application/events"
	"github.com/diwise/vitals-monitor/internal/pkg/application/ingestion"
	"github.com/diwise/vitals-monitor/internal/pkg/application/scoring"
)

type Config struct {
	Ingestion     ingestion.Config      `yaml:"ingestion"`
	Scoring       scoring.Config        `yaml:"scoring"`
	Alerts        alerts.Config         `yaml:"alerts"`
	Notifications []events.Notification `yaml:"notifications"`
}

func DefaultConfiguration() *Config {
	return &Config{
		Ingestion: ingestion.DefaultConfig(),
		Scoring:   scoring.DefaultConfig(),
		Alerts:    alerts.DefaultConfig(),
	}
}

// LoadConfiguration reads a yaml configuration on top of the defaults, so a
// file only needs to contain the settings it changes.
func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfiguration()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Ingestion.MinValue >= c.Ingestion.MaxValue {
		return fmt.Errorf("ingestion value band [%.2f, %.2f] is empty", c.Ingestion.MinValue, c.Ingestion.MaxValue)
	}

	if c.Alerts.Yellow > c.Alerts.Red {
		return fmt.Errorf("yellow threshold %.2f is above red threshold %.2f", c.Alerts.Yellow, c.Alerts.Red)
	}

	if c.Scoring.Period <= 0 || c.Scoring.Window <= 0 || c.Scoring.PatientTimeout <= 0 {
		return fmt.Errorf("scoring period, window and patient timeout must be positive")
	}

	if c.Ingestion.Pace <= 0 || c.Ingestion.ReadTimeout <= 0 || c.Ingestion.KeepaliveInterval <= 0 {
		return fmt.Errorf("ingestion pace, read timeout and keepalive interval must be positive")
	}

	for _, d := range c.Ingestion.Devices {
		if d.Target == "" || d.PatientID == "" {
			return fmt.Errorf("device bindings need both a target and a patientID")
		}
	}

	return nil
}
