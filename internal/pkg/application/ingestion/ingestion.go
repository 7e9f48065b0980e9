package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/diwise/vitals-monitor/internal/pkg/application/signal"
	"github.com/diwise/vitals-monitor/internal/pkg/application/webevents"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/vitals-monitor/pkg/types"
)

// Binding ties a device to the patient whose readings it produces.
type Binding struct {
	Target    string `yaml:"target"`
	PatientID string `yaml:"patientID"`
}

type Config struct {
	Devices           []Binding     `yaml:"devices"`
	ControlMarker     string        `yaml:"controlMarker"`
	MinValue          float64       `yaml:"minValue"`
	MaxValue          float64       `yaml:"maxValue"`
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	Pace              time.Duration `yaml:"pace"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
}

func DefaultConfig() Config {
	band := signal.DefaultBand()

	return Config{
		ControlMarker:     signal.DefaultControlMarker,
		MinValue:          band.Min,
		MaxValue:          band.Max,
		KeepaliveInterval: 5 * time.Second,
		Pace:              200 * time.Millisecond,
		ReadTimeout:       time.Second,
	}
}

type SampleWriter interface {
	AddSample(ctx context.Context, sample types.Sample) error
}

type PatientReader interface {
	GetPatient(ctx context.Context, patientID string) (types.Patient, error)
}

type ManualAlerter interface {
	TriggerManualAlert(ctx context.Context, patient types.Patient, message string) (types.ManualAlert, error)
}

type Broadcaster interface {
	Publish(channel, event string, data any) error
	PublishRaw(channel, event, data string)
	Keepalive(channel string)
}

type Loop struct {
	binding Binding
	device  io.ReadCloser

	parser            signal.Parser
	band              signal.Band
	keepaliveInterval time.Duration
	pace              time.Duration

	samples     SampleWriter
	patients    PatientReader
	alerts      ManualAlerter
	broadcaster Broadcaster

	// bytes after the last line break, held until the line completes
	partial    []byte
	readErrors int

	lastEmitted time.Time
	now         func() time.Time
}

func New(binding Binding, cfg Config, device io.ReadCloser, samples SampleWriter, patients PatientReader, alerts ManualAlerter, broadcaster Broadcaster) *Loop {
	return &Loop{
		binding:           binding,
		device:            device,
		parser:            signal.NewParser(cfg.ControlMarker),
		band:              signal.Band{Min: cfg.MinValue, Max: cfg.MaxValue},
		keepaliveInterval: cfg.KeepaliveInterval,
		pace:              cfg.Pace,
		samples:           samples,
		patients:          patients,
		alerts:            alerts,
		broadcaster:       broadcaster,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// ErrDeviceLost is returned by Run when the device keeps failing to read.
var ErrDeviceLost = errors.New("device lost")

const (
	chunkSize int = 1024
	// an unterminated line longer than this is parsed as it is
	maxPartial int = 4 * chunkSize
	// consecutive failed reads before the device is given up on
	maxReadErrors int = 3
)

type chunk struct {
	data []byte
	err  error
}

// Run consumes the device until ctx is cancelled or the device is lost, and
// closes the device before returning. Malformed input is logged and skipped.
func (l *Loop) Run(ctx context.Context) error {
	log := logging.GetLoggerFromContext(ctx).With().
		Str("device", l.binding.Target).
		Str("patientID", l.binding.PatientID).
		Logger()
	ctx = logging.NewContextWithLogger(ctx, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		if err := l.device.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close device")
		}
	}()

	chunks := make(chan chunk)
	go l.read(ctx, chunks)

	l.lastEmitted = l.now()

	log.Info().Msg("ingestion started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ingestion stopped")
			return nil
		case c := <-chunks:
			l.handle(ctx, log, c)
		}

		if l.readErrors >= maxReadErrors {
			log.Warn().Msgf("giving up on device after %d failed reads", l.readErrors)
			return ErrDeviceLost
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("ingestion stopped")
			return nil
		case <-time.After(l.pace):
		}
	}
}

// read runs the blocking device reads so that Run can observe cancellation.
// A read blocked when Run returns is released by closing the device.
func (l *Loop) read(ctx context.Context, chunks chan<- chunk) {
	for ctx.Err() == nil {
		buf := make([]byte, chunkSize)
		n, err := l.device.Read(buf)

		select {
		case <-ctx.Done():
			return
		case chunks <- chunk{data: buf[:n], err: err}:
		}
	}
}

func (l *Loop) handle(ctx context.Context, log zerolog.Logger, c chunk) {
	if c.err != nil {
		l.readErrors++
		log.Debug().Err(c.err).Msg("device read failed")
	} else {
		l.readErrors = 0
	}

	line := l.frame(c.data)

	if len(line) == 0 {
		l.keepaliveIfDue()
		return
	}

	reading, err := l.parser.Parse(line)
	if err == nil && reading.Kind == signal.KindValue {
		err = l.band.Validate(reading.Value)
	}

	if err != nil {
		log.Debug().Err(err).Msgf("skipping reading %q", line)
		l.keepaliveIfDue()
		return
	}

	if reading.Kind == signal.KindControl {
		l.helpRequested(ctx, log)
		return
	}

	sample := types.Sample{
		PatientID:  l.binding.PatientID,
		Value:      reading.Value,
		CapturedAt: l.now(),
	}

	err = l.samples.AddSample(ctx, sample)
	if err != nil {
		log.Error().Err(err).Msg("failed to store sample")
		l.keepaliveIfDue()
		return
	}

	l.broadcaster.PublishRaw(l.binding.PatientID, webevents.EventTemperature, fmt.Sprintf("%.2f", sample.Value))
	l.lastEmitted = l.now()
}

// frame returns the complete lines received so far and holds back any
// trailing partial line for the next chunk. An empty chunk means the device
// went quiet, so a held partial line is returned as it is.
func (l *Loop) frame(data []byte) []byte {
	if len(data) == 0 {
		line := l.partial
		l.partial = nil
		return line
	}

	buffered := append(l.partial, data...)

	end := bytes.LastIndexByte(buffered, '\n')
	if end < 0 {
		if len(buffered) > maxPartial {
			l.partial = nil
			return buffered
		}
		l.partial = buffered
		return nil
	}

	l.partial = append([]byte(nil), buffered[end+1:]...)
	if len(l.partial) == 0 {
		l.partial = nil
	}

	return buffered[:end+1]
}

func (l *Loop) helpRequested(ctx context.Context, log zerolog.Logger) {
	patient, err := l.patients.GetPatient(ctx, l.binding.PatientID)
	if err != nil {
		log.Error().Err(err).Msg("could not resolve patient for help request")
		patient = types.Patient{ID: l.binding.PatientID}
	}

	request := types.HelpRequest{
		Type:      types.HelpRequestType,
		PatientID: patient.ID,
		Name:      patient.Name,
		Room:      patient.Room,
	}

	alert, err := l.alerts.TriggerManualAlert(ctx, patient, "")
	if err != nil {
		log.Error().Err(err).Msg("failed to create manual alert")
	} else {
		request.AlertID = alert.ID
	}

	err = l.broadcaster.Publish(l.binding.PatientID, webevents.EventAlert, request)
	if err != nil {
		log.Error().Err(err).Msg("failed to broadcast help request")
		return
	}

	l.lastEmitted = l.now()
}

func (l *Loop) keepaliveIfDue() {
	now := l.now()
	if now.Sub(l.lastEmitted) > l.keepaliveInterval {
		l.broadcaster.Keepalive(l.binding.PatientID)
		l.lastEmitted = now
	}
}
