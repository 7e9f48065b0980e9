package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/diwise/vitals-monitor/internal/pkg/application"
	"github.com/diwise/vitals-monitor/internal/pkg/application/events"
	"github.com/diwise/vitals-monitor/internal/pkg/application/webevents"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/vitals-monitor/pkg/types"
)

func TestHealth(t *testing.T) {
	is, _, server, _ := testSetup(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/health", nil)
	is.Equal(http.StatusNoContent, resp.StatusCode)
}

func TestCreateAndFetchPatient(t *testing.T) {
	is, _, server, _ := testSetup(t)

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/patients", strings.NewReader(`{"name":"Naru","room":"101","baselineTemp":36.8}`))
	is.Equal(http.StatusCreated, resp.StatusCode)

	var p types.Patient
	is.NoErr(json.Unmarshal([]byte(body), &p))
	is.True(p.ID != "")
	is.Equal(types.PatientStatusActive, p.Status)

	resp, body = testRequest(is, server, http.MethodGet, "/api/v0/patients/"+p.ID, nil)
	is.Equal(http.StatusOK, resp.StatusCode)

	var detail types.PatientDetail
	is.NoErr(json.Unmarshal([]byte(body), &detail))
	is.Equal("Naru", detail.Patient.Name)
	is.Equal(0, len(detail.Scores))

	resp, body = testRequest(is, server, http.MethodGet, "/api/v0/patients", nil)
	is.Equal(http.StatusOK, resp.StatusCode)
	is.True(strings.Contains(body, `"totalRecords":1`))
}

func TestThatInvalidPatientIsRejected(t *testing.T) {
	is, _, server, _ := testSetup(t)

	resp, _ := testRequest(is, server, http.MethodPost, "/api/v0/patients", strings.NewReader(`{"room":"101"}`))
	is.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/patients", strings.NewReader(`{not json`))
	is.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestThatUnknownPatientIsNotFound(t *testing.T) {
	is, _, server, _ := testSetup(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/api/v0/patients/unknown", nil)
	is.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = testRequest(is, server, http.MethodGet, "/api/v0/patients/unknown/variability", nil)
	is.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestPatchPatientStatus(t *testing.T) {
	is, ctx, server, app := testSetup(t)

	p, err := app.Patients().Create(ctx, types.Patient{Name: "Naru", Room: "101"})
	is.NoErr(err)

	resp, _ := testRequest(is, server, http.MethodPatch, "/api/v0/patients/"+p.ID, strings.NewReader(`{"status":"discharged"}`))
	is.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body := testRequest(is, server, http.MethodPatch, "/api/v0/patients/"+p.ID, strings.NewReader(`{"status":"inactive"}`))
	is.Equal(http.StatusOK, resp.StatusCode)
	is.True(strings.Contains(body, `"status":"inactive"`))
}

func TestDashboard(t *testing.T) {
	is, ctx, server, app := testSetup(t)

	p, err := app.Patients().Create(ctx, types.Patient{Name: "Naru", Room: "101", AdmittedAt: time.Now().UTC().Add(-72 * time.Hour)})
	is.NoErr(err)

	resp, body := testRequest(is, server, http.MethodGet, "/api/v0/dashboard", nil)
	is.Equal(http.StatusOK, resp.StatusCode)

	var d types.Dashboard
	is.NoErr(json.Unmarshal([]byte(body), &d))
	is.Equal(0, len(d.Red))
	is.Equal(0, len(d.Yellow))
	is.Equal(1, len(d.Green))
	is.Equal(p.ID, d.Green[0].ID)
	is.Equal(3, d.Green[0].DaysAdmitted)
}

func TestAcknowledgeThresholdAlert(t *testing.T) {
	is, ctx, server, app := testSetup(t)

	a, err := app.Alerts().EvaluateScore(ctx, "p1", 9.0)
	is.NoErr(err)

	resp, _ := testRequest(is, server, http.MethodPost, "/api/v0/alerts/"+a.ID+"/acknowledge", nil)
	is.Equal(http.StatusNoContent, resp.StatusCode)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/alerts/unknown/acknowledge", nil)
	is.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestManualAlerts(t *testing.T) {
	is, ctx, server, app := testSetup(t)

	a, err := app.Alerts().TriggerManualAlert(ctx, types.Patient{ID: "p1"}, "")
	is.NoErr(err)

	resp, body := testRequest(is, server, http.MethodGet, "/api/v0/manual-alerts?patientID=p1", nil)
	is.Equal(http.StatusOK, resp.StatusCode)
	is.True(strings.Contains(body, a.ID))

	resp, body = testRequest(is, server, http.MethodPost, "/api/v0/manual-alerts/"+a.ID+"/acknowledge", strings.NewReader(`{"acknowledgerID":"nurse-7"}`))
	is.Equal(http.StatusOK, resp.StatusCode)

	var acked types.ManualAlert
	is.NoErr(json.Unmarshal([]byte(body), &acked))
	is.True(acked.Acknowledged)
	is.Equal("nurse-7", *acked.AcknowledgerID)
	is.True(*acked.ResponseTimeSeconds >= 0)

	resp, body = testRequest(is, server, http.MethodGet, "/api/v0/manual-alerts", nil)
	is.Equal(http.StatusOK, resp.StatusCode)
	is.True(strings.Contains(body, `"totalRecords":0`))

	resp, _ = testRequest(is, server, http.MethodPost, "/api/v0/manual-alerts/unknown/acknowledge", nil)
	is.Equal(http.StatusNotFound, resp.StatusCode)
}

type senderFake struct{}

func (s *senderFake) Send(ctx context.Context, message events.Message) error {
	return nil
}

func testSetup(t *testing.T) (*is.I, context.Context, *httptest.Server, application.App) {
	is := is.New(t)
	ctx := context.Background()

	store, err := database.New(database.NewSQLiteConnector(zerolog.Nop()))
	is.NoErr(err)
	t.Cleanup(func() { store.Close() })

	noDevice := func(ctx context.Context, target string, readTimeout time.Duration) (io.ReadCloser, error) {
		return nil, io.EOF
	}

	we := webevents.New("")
	t.Cleanup(we.Shutdown)

	app := application.New(store, &senderFake{}, we, application.DefaultConfiguration(), noDevice)

	r := RegisterHandlers(ctx, chi.NewRouter(), app)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return is, ctx, server, app
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, string) {
	req, _ := http.NewRequest(method, ts.URL+path, body)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	return resp, string(respBody)
}
