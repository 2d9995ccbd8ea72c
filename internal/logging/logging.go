package logging

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: JSON in production, console output
// everywhere else. An empty level means info.
func New(environment, level string) (*zap.Logger, error) {
	parsed := zapcore.InfoLevel
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		if err := parsed.UnmarshalText([]byte(strings.ToLower(trimmed))); err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", trimmed)
		}
	}

	cfg := zap.NewDevelopmentConfig()
	if strings.EqualFold(strings.TrimSpace(environment), "production") {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
