package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"illustrator/internal/domain"
)

const defaultPort = "8000"

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" env-default:"development"`
	Port   string `env:"PORT" env-default:"8000"`

	// ReplicateAPIToken may be empty at startup; generation requests fail
	// with a configuration error until it is set.
	ReplicateAPIToken     string        `env:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL      string        `env:"REPLICATE_BASE_URL" env-default:"https://api.replicate.com"`
	ReplicateModelVersion string        `env:"REPLICATE_MODEL_VERSION"`
	ReplicatePollInterval time.Duration `env:"REPLICATE_POLL_INTERVAL" env-default:"1s"`

	GenerationTimeout       time.Duration `env:"GENERATION_TIMEOUT" env-default:"120s"`
	GenerationMaxConcurrent int64         `env:"GENERATION_MAX_CONCURRENT" env-default:"4"`
	UploadMemoryBytes       int64         `env:"UPLOAD_MEMORY_BYTES" env-default:"33554432"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`

	DatabaseURL string `env:"DATABASE_URL"`
	GeoIPDBPath string `env:"GEOIP_DB_PATH"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"30s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"180s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if cfg.Port = strings.TrimSpace(cfg.Port); cfg.Port == "" {
		cfg.Port = defaultPort
	}
	cfg.ReplicateAPIToken = strings.TrimSpace(cfg.ReplicateAPIToken)
	if strings.TrimSpace(cfg.ReplicateModelVersion) == "" {
		cfg.ReplicateModelVersion = domain.DefaultModelVersion
	}
	cfg.CORSAllowedOrigins = normalizeList(cfg.CORSAllowedOrigins)
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.GenerationMaxConcurrent <= 0 {
		return nil, fmt.Errorf("GENERATION_MAX_CONCURRENT must be positive")
	}
	if cfg.GenerationTimeout <= 0 {
		return nil, fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}

	return cfg, nil
}

// HasReplicateToken reports whether the provider credential is configured.
func (c *Config) HasReplicateToken() bool {
	return c != nil && c.ReplicateAPIToken != ""
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
