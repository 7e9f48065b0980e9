package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/vitals-monitor/pkg/types"
)

var ErrNotFound = errors.New("not found")

type VitalsMonitorClient interface {
	GetDashboard(ctx context.Context) (types.Dashboard, error)
	GetPatient(ctx context.Context, patientID string) (types.PatientDetail, error)
	AcknowledgeAlert(ctx context.Context, alertID string) error
	AcknowledgeManualAlert(ctx context.Context, alertID string, acknowledgerID *string) (types.ManualAlert, error)
}

type vitalsMonitorClient struct {
	url        string
	httpClient http.Client
}

var tracer = otel.Tracer("vitals-monitor-client")

func NewVitalsMonitorClient(url string) VitalsMonitorClient {
	return &vitalsMonitorClient{
		url: url,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *vitalsMonitorClient) GetDashboard(ctx context.Context) (types.Dashboard, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-dashboard")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	d := types.Dashboard{}
	err = c.do(ctx, http.MethodGet, "/api/v0/dashboard", nil, http.StatusOK, &d)

	return d, err
}

func (c *vitalsMonitorClient) GetPatient(ctx context.Context, patientID string) (types.PatientDetail, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-patient")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	d := types.PatientDetail{}
	err = c.do(ctx, http.MethodGet, "/api/v0/patients/"+patientID, nil, http.StatusOK, &d)

	return d, err
}

func (c *vitalsMonitorClient) AcknowledgeAlert(ctx context.Context, alertID string) error {
	var err error
	ctx, span := tracer.Start(ctx, "acknowledge-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msgf("acknowledging alert %s", alertID)

	err = c.do(ctx, http.MethodPost, "/api/v0/alerts/"+alertID+"/acknowledge", nil, http.StatusNoContent, nil)

	return err
}

func (c *vitalsMonitorClient) AcknowledgeManualAlert(ctx context.Context, alertID string, acknowledgerID *string) (types.ManualAlert, error) {
	var err error
	ctx, span := tracer.Start(ctx, "acknowledge-manual-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msgf("acknowledging manual alert %s", alertID)

	body, err := json.Marshal(struct {
		AcknowledgerID *string `json:"acknowledgerID,omitempty"`
	}{acknowledgerID})
	if err != nil {
		return types.ManualAlert{}, err
	}

	a := types.ManualAlert{}
	err = c.do(ctx, http.MethodPost, "/api/v0/manual-alerts/"+alertID+"/acknowledge", body, http.StatusOK, &a)

	return a, err
}

func (c *vitalsMonitorClient) do(ctx context.Context, method, path string, body []byte, expectedStatus int, result any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	if resp.StatusCode != expectedStatus {
		return fmt.Errorf("request to %s failed with status code %d", path, resp.StatusCode)
	}

	if result == nil {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	err = json.Unmarshal(respBody, result)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}
