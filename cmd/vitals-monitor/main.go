package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/diwise/vitals-monitor/internal/pkg/application"
	"github.com/diwise/vitals-monitor/internal/pkg/application/events"
	"github.com/diwise/vitals-monitor/internal/pkg/application/webevents"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/device"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/router"
	"github.com/diwise/vitals-monitor/internal/pkg/presentation/api"
	"github.com/diwise/vitals-monitor/internal/pkg/presentation/gui"
)

const serviceName string = "vitals-monitor"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort

	configurationFile
	patientsFile
	webRoot

	dbHost
	dbUser
	dbPassword
	dbPort
	dbName
	dbSSLMode

	rabbitMQHost

	devmode
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",

		configurationFile: "/opt/diwise/config/config.yaml",
		patientsFile:      "/opt/diwise/config/patients.csv",
		webRoot:           "/opt/diwise/web",

		dbHost:     "",
		dbUser:     "",
		dbPassword: "",
		dbPort:     "5432",
		dbName:     "diwise",
		dbSSLMode:  "disable",

		rabbitMQHost: "",

		devmode: "false",
	}
}

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion)
	logger.Info().Msg("starting up ...")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := parseExternalConfig(logger, defaultFlags())

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	exitIf(err, logger, "failed to init tracing")
	defer cleanup()

	cfg, err := loadConfiguration(flags[configurationFile])
	exitIf(err, logger, "could not load configuration")

	store, err := newStore(logger, flags)
	exitIf(err, logger, "could not create or connect to database")
	defer store.Close()

	err = seedPatients(ctx, store, flags[patientsFile])
	exitIf(err, logger, "could not seed patients")

	sender, closeSender, err := newSender(logger, cfg, flags)
	exitIf(err, logger, "could not create notification sender")
	defer closeSender()

	app := application.New(store, sender, webevents.New(defaultChannel(cfg)), cfg, device.Open)

	r := setupRouter(ctx, logger, app, flags[webRoot])

	app.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", flags[listenAddress], flags[servicePort]),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Msgf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("failed to start request router")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down ...")

	// close event streams before draining, they never finish on their own
	app.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down http server")
	}
}

func setupRouter(ctx context.Context, logger zerolog.Logger, app application.App, root string) *chi.Mux {
	r := router.New(serviceName)

	api.RegisterHandlers(ctx, r, app)

	if root != "" {
		gui.RegisterHandlers(logger, r, root)
	}

	return r
}

func loadConfiguration(path string) (*application.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return application.DefaultConfiguration(), nil
		}
		return nil, err
	}
	defer f.Close()

	return application.LoadConfiguration(f)
}

func newStore(logger zerolog.Logger, flags flagMap) (*database.Store, error) {
	if flags[devmode] == "true" {
		logger.Warn().Msg("running in devmode with an in-memory database")
		return database.New(database.NewSQLiteConnector(logger))
	}

	cfg := database.NewConfig(flags[dbHost], flags[dbUser], flags[dbPassword], flags[dbPort], flags[dbName], flags[dbSSLMode])
	return database.New(database.NewPostgreSQLConnector(logger, cfg))
}

func seedPatients(ctx context.Context, store *database.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log := logging.GetLoggerFromContext(ctx)
			log.Info().Msgf("no patients file at %s, skipping seed", path)
			return nil
		}
		return err
	}
	defer f.Close()

	return database.SeedPatients(ctx, store, f)
}

// newSender posts alert notifications as cloud events to the configured
// subscribers and, when a broker host is set, publishes them on the topic
// exchange too.
func newSender(logger zerolog.Logger, cfg *application.Config, flags flagMap) (events.Sender, func(), error) {
	cloudEvents, err := events.NewCloudEventSender(cfg.Notifications)
	if err != nil {
		return nil, nil, err
	}

	if flags[rabbitMQHost] == "" {
		return cloudEvents, func() {}, nil
	}

	messenger, err := messaging.Initialize(messaging.LoadConfiguration(serviceName, logger))
	if err != nil {
		return nil, nil, err
	}

	return events.NewFanout(cloudEvents, events.NewBrokerSender(messenger)), messenger.Close, nil
}

func defaultChannel(cfg *application.Config) string {
	if len(cfg.Ingestion.Devices) > 0 {
		return cfg.Ingestion.Devices[0].PatientID
	}
	return ""
}

func parseExternalConfig(logger zerolog.Logger, flags flagMap) flagMap {
	// Allow environment variables to override certain defaults
	envOrDef := env.GetVariableOrDefault

	flags[listenAddress] = envOrDef(logger, "LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef(logger, "SERVICE_PORT", flags[servicePort])

	flags[configurationFile] = envOrDef(logger, "CONFIG_FILE", flags[configurationFile])
	flags[patientsFile] = envOrDef(logger, "PATIENTS_FILE", flags[patientsFile])
	flags[webRoot] = envOrDef(logger, "WEB_ROOT", flags[webRoot])

	flags[dbHost] = envOrDef(logger, "POSTGRES_HOST", flags[dbHost])
	flags[dbPort] = envOrDef(logger, "POSTGRES_PORT", flags[dbPort])
	flags[dbName] = envOrDef(logger, "POSTGRES_DBNAME", flags[dbName])
	flags[dbUser] = envOrDef(logger, "POSTGRES_USER", flags[dbUser])
	flags[dbPassword] = envOrDef(logger, "POSTGRES_PASSWORD", flags[dbPassword])
	flags[dbSSLMode] = envOrDef(logger, "POSTGRES_SSLMODE", flags[dbSSLMode])

	flags[rabbitMQHost] = envOrDef(logger, "RABBITMQ_HOST", flags[rabbitMQHost])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("config", "vitals monitor configuration file", apply(configurationFile))
	flag.Func("patients", "list of patients to seed", apply(patientsFile))
	flag.Func("webroot", "directory holding the front end", apply(webRoot))
	flag.Func("devmode", "enable dev mode", apply(devmode))
	flag.Parse()

	return flags
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Error().Err(err).Msg(msg)
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
