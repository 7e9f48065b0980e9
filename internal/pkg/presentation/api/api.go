package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/vitals-monitor/internal/pkg/application"
	"github.com/diwise/vitals-monitor/internal/pkg/application/alerts"
	"github.com/diwise/vitals-monitor/internal/pkg/application/patients"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/vitals-monitor/pkg/types"
)

var tracer = otel.Tracer("vitals-monitor/api")

func RegisterHandlers(ctx context.Context, router *chi.Mux, app application.App) *chi.Mux {
	log := logging.GetLoggerFromContext(ctx)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	stream := app.WebEvents().Server()

	// live readings for the first bound patient
	router.Get("/stream", stream.ServeHTTP)

	router.Route("/api/v0", func(r chi.Router) {
		r.Get("/dashboard", getDashboardHandler(log, app.Patients()))

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", queryPatientsHandler(log, app.Patients()))
			r.Post("/", createPatientHandler(log, app.Patients()))
			r.Get("/{patientID}", getPatientDetailsHandler(log, app.Patients()))
			r.Patch("/{patientID}", patchPatientHandler(log, app.Patients()))
			r.Get("/{patientID}/variability", getVariabilityHandler(log, app.Patients()))
			r.Get("/{patientID}/stream", stream.ServeHTTP)
		})

		r.Post("/alerts/{alertID}/acknowledge", acknowledgeAlertHandler(log, app.Alerts()))

		r.Get("/manual-alerts", getManualAlertsHandler(log, app.Alerts()))
		r.Post("/manual-alerts/{alertID}/acknowledge", acknowledgeManualAlertHandler(log, app.Alerts()))
	})

	return router
}

func getDashboardHandler(log zerolog.Logger, svc patients.PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-dashboard")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		dashboard, err := svc.Dashboard(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("could not build dashboard")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, dashboard)
	}
}

func queryPatientsHandler(log zerolog.Logger, svc patients.PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-all-patients")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		result, err := svc.List(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("could not fetch patients")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, NewCollectionResponse(result))
	}
}

func createPatientHandler(log zerolog.Logger, svc patients.PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-patient")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var p types.Patient
		err = json.Unmarshal(body, &p)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		created, err := svc.Create(ctx, p)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to create patient")
			w.WriteHeader(statusFromError(err))
			return
		}

		w.Header().Add("Location", "/api/v0/patients/"+created.ID)
		writeJSON(w, http.StatusCreated, created)
	}
}

func getPatientDetailsHandler(log zerolog.Logger, svc patients.PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-patient")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		patientID := chi.URLParam(r, "patientID")

		detail, err := svc.Detail(ctx, patientID)
		if err != nil {
			requestLogger.Debug().Err(err).Str("patientID", patientID).Msg("could not fetch patient details")
			w.WriteHeader(statusFromError(err))
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func patchPatientHandler(log zerolog.Logger, svc patients.PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "patch-patient")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		patientID := chi.URLParam(r, "patientID")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req patchPatientRequest
		err = json.Unmarshal(body, &req)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		p, err := svc.SetStatus(ctx, patientID, req.Status)
		if err != nil {
			requestLogger.Error().Err(err).Str("patientID", patientID).Msg("unable to update patient")
			w.WriteHeader(statusFromError(err))
			return
		}

		writeJSON(w, http.StatusOK, p)
	}
}

func getVariabilityHandler(log zerolog.Logger, svc patients.PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-variability")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		patientID := chi.URLParam(r, "patientID")

		v, err := svc.Variability(ctx, patientID)
		if err != nil {
			requestLogger.Debug().Err(err).Str("patientID", patientID).Msg("could not compute variability")
			w.WriteHeader(statusFromError(err))
			return
		}

		writeJSON(w, http.StatusOK, v)
	}
}

func acknowledgeAlertHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "acknowledge-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		alertID := chi.URLParam(r, "alertID")

		err = svc.AcknowledgeThresholdAlert(ctx, alertID)
		if err != nil {
			requestLogger.Error().Err(err).Str("alertID", alertID).Msg("unable to acknowledge alert")
			w.WriteHeader(statusFromError(err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getManualAlertsHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-manual-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		result, err := svc.UnacknowledgedManualAlerts(ctx, r.URL.Query().Get("patientID"))
		if err != nil {
			requestLogger.Error().Err(err).Msg("could not fetch manual alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, NewCollectionResponse(result))
	}
}

func acknowledgeManualAlertHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "acknowledge-manual-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := addTraceIDToLoggerAndStoreInContext(span, log, ctx)

		alertID := chi.URLParam(r, "alertID")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req acknowledgeRequest
		if len(body) > 0 {
			err = json.Unmarshal(body, &req)
			if err != nil {
				requestLogger.Error().Err(err).Msg("unable to unmarshal body")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		alert, err := svc.AcknowledgeManualAlert(ctx, alertID, req.AcknowledgerID)
		if err != nil {
			requestLogger.Error().Err(err).Str("alertID", alertID).Msg("unable to acknowledge manual alert")
			w.WriteHeader(statusFromError(err))
			return
		}

		writeJSON(w, http.StatusOK, alert)
	}
}

func addTraceIDToLoggerAndStoreInContext(span trace.Span, log zerolog.Logger, ctx context.Context) (context.Context, zerolog.Logger) {
	if traceID := span.SpanContext().TraceID(); traceID.IsValid() {
		log = log.With().Str("traceID", traceID.String()).Logger()
	}

	return logging.NewContextWithLogger(ctx, log), log
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, patients.ErrPatientNotFound), errors.Is(err, alerts.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, patients.ErrInvalidPatient), errors.Is(err, patients.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
