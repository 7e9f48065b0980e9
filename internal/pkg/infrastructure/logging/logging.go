package logging

import (
	"context"
	"os"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/rs/zerolog"
)

// NewLogger creates the service logger and stores it in the returned context.
// LOG_LEVEL selects the level, info unless set to a valid zerolog level.
func NewLogger(ctx context.Context, serviceName, serviceVersion string) (context.Context, zerolog.Logger) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	_, logger := logging.NewLogger(ctx, serviceName, serviceVersion)
	logger = logger.Level(levelFromEnv())

	return NewContextWithLogger(ctx, logger), logger
}

func levelFromEnv() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func NewContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logging.NewContextWithLogger(ctx, logger)
}

// WithPatient returns a context whose logger carries the patient id.
func WithPatient(ctx context.Context, patientID string) (context.Context, zerolog.Logger) {
	logger := GetLoggerFromContext(ctx).With().Str("patientID", patientID).Logger()
	return NewContextWithLogger(ctx, logger), logger
}

func GetLoggerFromContext(ctx context.Context) zerolog.Logger {
	return logging.GetFromContext(ctx)
}
