package social

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config carries the environment-driven settings of the package.
type Config struct {
	// DatabaseURL is the Postgres DSN for the production store adapters.
	DatabaseURL string
	// PageSize is the fixed feed page size.
	PageSize int
}

// LoadConfig reads .env (when present) and the environment. Missing values
// fall back to development defaults with a logged warning, matching how
// the deployment scripts expect the backend to behave.
func LoadConfig() Config {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		PageSize:    DefaultPageSize,
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "user=admin password=password dbname=sportlinkdb sslmode=disable"
		log.Warn().Msg("DATABASE_URL not set, using default connection string")
	}
	if raw := os.Getenv("FEED_PAGE_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.PageSize = n
		} else {
			log.Warn().Str("value", raw).Msg("ignoring invalid FEED_PAGE_SIZE")
		}
	}
	return cfg
}
