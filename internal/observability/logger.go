package observability

import (
	"os"

	"github.com/danmuck/spreadctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global runtime logger and tags it with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	logging.ApplyEnvOverrides(&cfg, os.Getenv)
	logger := logging.New(cfg).With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
