package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// EnvConfig is the process level configuration, read from the environment.
// User preferences live in the settings file instead (see Settings).
type EnvConfig struct {
	Port         int    `env:"SERVER_PORT" env-default:"8080"`
	GinMode      string `env:"GIN_MODE" env-default:"release"`
	LogLevel     string `env:"LOG_LEVEL" env-default:"info"`
	SettingsPath string `env:"YTBATCH_SETTINGS" env-default:"~/.ytdl_settings.json"`
	ErrorLogPath string `env:"YTBATCH_ERROR_LOG" env-default:"~/.ytdl_errors.log"`
	YtdlpPath    string `env:"YTDLP_PATH" env-default:"yt-dlp"`

	// Debounce between queued jobs
	SuccessDelay time.Duration `env:"YTBATCH_SUCCESS_DELAY" env-default:"2s"`
	FailureDelay time.Duration `env:"YTBATCH_FAILURE_DELAY" env-default:"1s"`

	CorsOrigins       string  `env:"CORS_ORIGINS" env-default:"http://localhost:3000,http://localhost:5173"`
	RequestsPerSecond float64 `env:"API_REQUESTS_PER_SECOND" env-default:"20"`
	RequestBurst      int     `env:"API_REQUEST_BURST" env-default:"40"`

	// Optional redis mirror of the error log
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	RedisKey      string `env:"REDIS_ERROR_LOG_KEY" env-default:"ytbatch:errors"`
}

// LoadEnv reads the EnvConfig from the environment, applying defaults
func LoadEnv() (*EnvConfig, error) {
	var cfg EnvConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment config: %w", err)
	}

	var err error
	if cfg.SettingsPath, err = expandPath(cfg.SettingsPath); err != nil {
		return nil, err
	}
	if cfg.ErrorLogPath, err = expandPath(cfg.ErrorLogPath); err != nil {
		return nil, err
	}
	if cfg.FailureDelay > cfg.SuccessDelay {
		return nil, fmt.Errorf("failure delay (%s) must not exceed success delay (%s)", cfg.FailureDelay, cfg.SuccessDelay)
	}

	return &cfg, nil
}

// AllowedOrigins splits the CORS_ORIGINS list
func (c *EnvConfig) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CorsOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func expandPath(path string) (string, error) {
	expanded, err := homedir.Expand(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("expand path %q: %w", path, err)
	}
	return filepath.Clean(expanded), nil
}

// GetDownloadLocation returns the default output directory when the settings
// file does not name one
func GetDownloadLocation() string {
	home, err := homedir.Dir()
	if err != nil {
		// Fallback to current directory if can't get home dir
		return filepath.Join(".", "downloads")
	}
	return filepath.Join(home, "Downloads")
}
