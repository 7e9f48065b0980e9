package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/diwise/vitals-monitor/internal/pkg/application/alerts"
	"github.com/diwise/vitals-monitor/internal/pkg/application/events"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/vitals-monitor/pkg/types"
)

func TestThatPatientsWithTooFewSamplesAreSkipped(t *testing.T) {
	is, ctx := testSetup(t)

	store := newStoreFake("p1")
	store.samples["p1"] = series(10, func(i int) float64 { return 36.5 })
	evaluator := &evaluatorFake{}

	c := New(store, evaluator, DefaultConfig())
	is.NoErr(c.RunOnce(ctx))

	is.Equal(0, len(store.scores))
	is.Equal(0, len(evaluator.scores))
}

func TestThatScoreIsStoredAndEvaluated(t *testing.T) {
	is, ctx := testSetup(t)

	store := newStoreFake("p1")
	// alternating 36 and 38 gives a second derivative of 4 at every interior point
	store.samples["p1"] = series(11, func(i int) float64 { return 36.0 + float64(i%2)*2.0 })
	evaluator := &evaluatorFake{}

	c := New(store, evaluator, DefaultConfig())
	is.NoErr(c.RunOnce(ctx))

	is.Equal(1, len(store.scores))
	is.Equal("p1", store.scores[0].PatientID)
	is.Equal(4.0, store.scores[0].Value)
	is.Equal(4.0, evaluator.scores["p1"])
}

func TestThatOneFailingPatientDoesNotStopTheOthers(t *testing.T) {
	is, ctx := testSetup(t)

	store := newStoreFake("broken", "panics", "p1")
	store.failFor = "broken"
	store.samples["panics"] = series(11, func(i int) float64 { return 36.5 })
	store.samples["p1"] = series(11, func(i int) float64 { return 36.5 })

	evaluator := &evaluatorFake{panicFor: "panics"}

	c := New(store, evaluator, DefaultConfig())
	is.NoErr(c.RunOnce(ctx))

	is.Equal(0.0, evaluator.scores["p1"])
	_, ok := evaluator.scores["p1"]
	is.True(ok)
	is.Equal(2, len(store.scores))
}

func TestThatListingFailureIsReported(t *testing.T) {
	is, ctx := testSetup(t)

	store := newStoreFake()
	store.listErr = errors.New("database unavailable")

	c := New(store, &evaluatorFake{}, DefaultConfig())
	is.True(c.RunOnce(ctx) != nil)
}

func TestThatStartRunsAPassAndStopReturns(t *testing.T) {
	is, ctx := testSetup(t)

	store := newStoreFake("p1")
	store.samples["p1"] = series(12, func(i int) float64 { return 36.5 })
	evaluator := &evaluatorFake{}

	c := New(store, evaluator, DefaultConfig())
	c.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for store.scoreCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	c.Stop()

	is.Equal(1, store.scoreCount())
}

func TestThatHighVariabilityRaisesARedAlert(t *testing.T) {
	is, ctx := testSetup(t)

	store, err := database.New(database.NewSQLiteConnector(zerolog.Nop()))
	is.NoErr(err)
	defer store.Close()

	p, err := store.AddPatient(ctx, types.Patient{Name: "Naru", Room: "101", BaselineTemp: 36.8})
	is.NoErr(err)

	start := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		v := 30.0
		if i%2 == 0 {
			v = 35.0
		}
		err = store.AddSample(ctx, types.Sample{PatientID: p.ID, Value: v, CapturedAt: start.Add(time.Duration(i) * time.Minute)})
		is.NoErr(err)
	}

	alertSvc := alerts.New(store, &senderFake{}, alerts.DefaultConfig())

	c := New(store, alertSvc, DefaultConfig())
	is.NoErr(c.RunOnce(ctx))

	score, err := store.LatestScore(ctx, p.ID)
	is.NoErr(err)
	is.Equal(10.0, score.Value)

	raised, err := alertSvc.ThresholdAlerts(ctx, p.ID, start)
	is.NoErr(err)
	is.Equal(1, len(raised))
	is.Equal(types.AlertKindRed, raised[0].Kind)
}

func series(n int, f func(i int) float64) []types.Sample {
	start := time.Now().UTC().Add(-time.Hour)
	samples := make([]types.Sample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, types.Sample{Value: f(i), CapturedAt: start.Add(time.Duration(i) * time.Minute)})
	}
	return samples
}

type storeFake struct {
	mu       sync.Mutex
	patients []types.Patient
	samples  map[string][]types.Sample
	scores   []types.Score
	failFor  string
	listErr  error
}

func newStoreFake(patientIDs ...string) *storeFake {
	s := &storeFake{samples: map[string][]types.Sample{}}
	for _, id := range patientIDs {
		s.patients = append(s.patients, types.Patient{ID: id, Status: types.PatientStatusActive})
	}
	return s
}

func (s *storeFake) ActivePatients(ctx context.Context) ([]types.Patient, error) {
	return s.patients, s.listErr
}

func (s *storeFake) SamplesSince(ctx context.Context, patientID string, since time.Time) ([]types.Sample, error) {
	if patientID == s.failFor {
		return nil, errors.New("query failed")
	}
	return s.samples[patientID], nil
}

func (s *storeFake) AddScore(ctx context.Context, score types.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, score)
	return nil
}

func (s *storeFake) scoreCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scores)
}

type evaluatorFake struct {
	scores   map[string]float64
	panicFor string
}

func (e *evaluatorFake) EvaluateScore(ctx context.Context, patientID string, score float64) (*types.ThresholdAlert, error) {
	if patientID == e.panicFor {
		panic("evaluation exploded")
	}
	if e.scores == nil {
		e.scores = map[string]float64{}
	}
	e.scores[patientID] = score
	return nil, nil
}

type senderFake struct{}

func (s *senderFake) Send(ctx context.Context, message events.Message) error {
	return nil
}

func testSetup(t *testing.T) (*is.I, context.Context) {
	return is.New(t), context.Background()
}
