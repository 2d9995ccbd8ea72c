package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
)

const (
	defaultPort                  = "8080"
	defaultLumenBaseURL          = "https://open-wrapper.codenlighten.org"
	defaultLumenModel            = "gpt-5-nano"
	defaultLumenTemperature      = 1.0
	defaultQueryTimeoutSecs      = 60
	defaultResearchMaxDepth      = 3
	defaultResearchDelayMillis   = 500
	defaultResearchMaxBranches   = 3
	defaultResearchTimeoutSecs   = 600
	defaultSchemaConcurrency     = 1
	defaultGCSExportPrefix       = "research-runs"
	defaultCredentialsFileSuffix = ".lumen/config.json"
)

type Config struct {
	Port                      string
	Environment               string
	LogLevel                  string
	AllowedOrigins            []string
	LumenBaseURL              string
	LumenToken                string
	LumenCredentialsFile      string
	LumenModel                string
	LumenTemperature          float64
	LumenMaxTokens            int
	QueryTimeout              time.Duration
	MinRequestInterval        time.Duration
	ResearchMaxDepth          int
	ResearchDelay             time.Duration
	ResearchMaxBranches       int
	ResearchSchemaConcurrency int
	ResearchTimeout           time.Duration
	ForwardOutputSchema       bool
	DatabaseURL               string
	DatabaseAuthToken         string
	GCSExportBucket           string
	GCSExportPrefix           string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Load reads the environment. The bearer token comes from LUMEN_TOKEN or,
// when unset, from the credentials file written by the login flow.
func Load() (Config, error) {
	cfg := Config{
		Port:                      envOrDefault("PORT", defaultPort),
		Environment:               envOrDefault("APP_ENV", "development"),
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		LumenBaseURL:              strings.TrimRight(envOrDefault("LUMEN_BASE_URL", defaultLumenBaseURL), "/"),
		LumenToken:                strings.TrimSpace(os.Getenv("LUMEN_TOKEN")),
		LumenCredentialsFile:      envOrDefault("LUMEN_CREDENTIALS_FILE", defaultCredentialsFile()),
		LumenModel:                envOrDefault("LUMEN_MODEL", defaultLumenModel),
		LumenTemperature:          floatOrDefault("LUMEN_TEMPERATURE", defaultLumenTemperature),
		LumenMaxTokens:            intOrDefault("LUMEN_MAX_TOKENS", 0),
		QueryTimeout:              time.Duration(intOrDefault("LUMEN_QUERY_TIMEOUT_SECONDS", defaultQueryTimeoutSecs)) * time.Second,
		MinRequestInterval:        time.Duration(intOrDefault("LUMEN_MIN_REQUEST_INTERVAL_MS", 0)) * time.Millisecond,
		ResearchMaxDepth:          intOrDefault("RESEARCH_MAX_DEPTH", defaultResearchMaxDepth),
		ResearchDelay:             time.Duration(intOrDefault("RESEARCH_DELAY_MS", defaultResearchDelayMillis)) * time.Millisecond,
		ResearchMaxBranches:       intOrDefault("RESEARCH_MAX_BRANCHES", defaultResearchMaxBranches),
		ResearchSchemaConcurrency: intOrDefault("RESEARCH_SCHEMA_CONCURRENCY", defaultSchemaConcurrency),
		ResearchTimeout:           time.Duration(intOrDefault("RESEARCH_TIMEOUT_SECONDS", defaultResearchTimeoutSecs)) * time.Second,
		ForwardOutputSchema:       boolOrDefault("RESEARCH_FORWARD_OUTPUT_SCHEMA", false),
		DatabaseURL:               strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseAuthToken:         strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		GCSExportBucket:           strings.TrimSpace(os.Getenv("GCS_EXPORT_BUCKET")),
		GCSExportPrefix:           strings.Trim(envOrDefault("GCS_EXPORT_PREFIX", defaultGCSExportPrefix), "/"),
	}

	cfg.AllowedOrigins = parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:4173"))
	if len(cfg.AllowedOrigins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}

	if cfg.ResearchMaxDepth < 1 {
		return Config{}, errors.New("RESEARCH_MAX_DEPTH must be > 0")
	}
	if cfg.ResearchMaxBranches < 1 {
		return Config{}, errors.New("RESEARCH_MAX_BRANCHES must be > 0")
	}
	if cfg.ResearchDelay < 0 {
		return Config{}, errors.New("RESEARCH_DELAY_MS must be >= 0")
	}
	if cfg.QueryTimeout <= 0 {
		return Config{}, errors.New("LUMEN_QUERY_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.ResearchTimeout <= 0 {
		return Config{}, errors.New("RESEARCH_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.LumenTemperature < 0 || cfg.LumenTemperature > 2 {
		return Config{}, errors.New("LUMEN_TEMPERATURE must be between 0 and 2")
	}

	if cfg.LumenToken == "" && cfg.LumenCredentialsFile != "" {
		creds, err := LoadCredentials(cfg.LumenCredentialsFile)
		switch {
		case err == nil:
			cfg.LumenToken = creds.Token
		case errors.Is(err, os.ErrNotExist):
			// not logged in; callers surface lumen.ErrMissingAPIKey on first query
		default:
			return Config{}, errors.Wrap(err, "load lumen credentials")
		}
	}

	return cfg, nil
}

// ValidateServer checks the settings only the API server needs.
func (c Config) ValidateServer() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(c.DatabaseURL, "libsql://") && c.DatabaseAuthToken == "" {
		return errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	return nil
}

func defaultCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, defaultCredentialsFileSuffix)
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatOrDefault(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
