package application

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/diwise/vitals-monitor/internal/pkg/application/alerts"
	"github.com/diwise/vitals-monitor/internal/pkg/application/events"
	"github.com/diwise/vitals-monitor/internal/pkg/application/ingestion"
	"github.com/diwise/vitals-monitor/internal/pkg/application/patients"
	"github.com/diwise/vitals-monitor/internal/pkg/application/scoring"
	"github.com/diwise/vitals-monitor/internal/pkg/application/webevents"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
)

type App interface {
	Start(ctx context.Context)
	Stop()

	Patients() patients.PatientService
	Alerts() alerts.AlertService
	WebEvents() webevents.WebEvents
}

type Store interface {
	alerts.AlertRepository
	patients.PatientRepository
	scoring.Store
	ingestion.SampleWriter
}

// DeviceOpener connects to the device behind a target such as
// serial:///dev/ttyACM0 or tcp://host:port.
type DeviceOpener func(ctx context.Context, target string, readTimeout time.Duration) (io.ReadCloser, error)

type app struct {
	store     Store
	config    *Config
	openFunc  DeviceOpener
	webEvents webevents.WebEvents

	alertSvc   alerts.AlertService
	patientSvc patients.PatientService
	cycle      scoring.Cycle

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(s Store, sender events.Sender, we webevents.WebEvents, cfg *Config, open DeviceOpener) App {
	alertSvc := alerts.New(s, sender, cfg.Alerts)

	return &app{
		store:      s,
		config:     cfg,
		openFunc:   open,
		webEvents:  we,
		alertSvc:   alertSvc,
		patientSvc: patients.New(s, alertSvc, cfg.Alerts, cfg.Scoring.OutlierThreshold),
		cycle:      scoring.New(s, alertSvc, cfg.Scoring),
	}
}

func (a *app) Patients() patients.PatientService {
	return a.patientSvc
}

func (a *app) Alerts() alerts.AlertService {
	return a.alertSvc
}

func (a *app) WebEvents() webevents.WebEvents {
	return a.webEvents
}

// Start launches the scoring cycle and one ingestion loop per configured device.
func (a *app) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return
	}

	ctx, a.cancel = context.WithCancel(ctx)

	a.cycle.Start(ctx)

	for _, binding := range a.config.Ingestion.Devices {
		a.wg.Add(1)
		go func(b ingestion.Binding) {
			defer a.wg.Done()
			a.ingest(ctx, b)
		}(binding)
	}
}

func (a *app) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		a.wg.Wait()
	}

	a.cycle.Stop()
	a.webEvents.Shutdown()
}

// ingest opens the device and runs the ingestion loop for it, reopening the
// device whenever it fails to open or is lost, until ctx is done. Viewers get
// keepalives while the device is unavailable.
func (a *app) ingest(ctx context.Context, b ingestion.Binding) {
	log := logging.GetLoggerFromContext(ctx).With().Str("device", b.Target).Str("patientID", b.PatientID).Logger()

	cfg := a.config.Ingestion

	for {
		device, err := a.openFunc(ctx, b.Target, cfg.ReadTimeout)
		if err == nil {
			err = ingestion.New(b, cfg, device, a.store, a.store, a.alertSvc, a.webEvents).Run(ctx)
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msgf("ingestion ended, reopening device in %s", cfg.KeepaliveInterval)
		} else {
			log.Error().Err(err).Msgf("failed to open device, retrying in %s", cfg.KeepaliveInterval)
		}

		a.webEvents.Keepalive(b.PatientID)

		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.KeepaliveInterval):
		}
	}
}
