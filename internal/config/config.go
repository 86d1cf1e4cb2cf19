package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultOutputDir       = "data/raw"
	defaultStartDate       = "2002-01-01"
	defaultTimeoutSeconds  = 90
	defaultUserAgent       = "panorama-collector/0.1"
	defaultRateLimitPerSec = 2
	defaultRateLimitBurst  = 1
	defaultBCBBaseURL      = "https://api.bcb.gov.br/dados/serie/"
	defaultBCBWindowYears  = 10
	defaultSIDRABaseURL    = "https://apisidra.ibge.gov.br/values/"
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	dateLayout             = "2006-01-02"
)

type Config struct {
	OutputDir       string
	StartDate       string
	EndDate         string
	Timeout         time.Duration
	UserAgent       string
	RateLimitPerSec int
	RateLimitBurst  int
	BCBBaseURL      string
	BCBWindowYears  int
	SIDRABaseURL    string
	DBPath          string
	SourcesFile     string
	LogLevel        string
	LogFormat       string
}

// Load reads envFile (when it exists) into the process environment and then
// builds the configuration from it. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		OutputDir:       getenv("PANORAMA_OUTPUT_DIR", defaultOutputDir),
		StartDate:       getenv("PANORAMA_START_DATE", defaultStartDate),
		EndDate:         getenv("PANORAMA_END_DATE", ""),
		Timeout:         time.Duration(getenvInt("PANORAMA_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second,
		UserAgent:       getenv("PANORAMA_USER_AGENT", defaultUserAgent),
		RateLimitPerSec: getenvInt("PANORAMA_RATE_LIMIT_PER_SEC", defaultRateLimitPerSec),
		RateLimitBurst:  getenvInt("PANORAMA_RATE_LIMIT_BURST", defaultRateLimitBurst),
		BCBBaseURL:      getenv("PANORAMA_BCB_BASE_URL", defaultBCBBaseURL),
		BCBWindowYears:  getenvInt("PANORAMA_BCB_WINDOW_YEARS", defaultBCBWindowYears),
		SIDRABaseURL:    getenv("PANORAMA_SIDRA_BASE_URL", defaultSIDRABaseURL),
		DBPath:          getenv("PANORAMA_DB", ""),
		SourcesFile:     getenv("PANORAMA_SOURCES_FILE", ""),
		LogLevel:        getenv("PANORAMA_LOG_LEVEL", defaultLogLevel),
		LogFormat:       getenv("PANORAMA_LOG_FORMAT", defaultLogFormat),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("config: output dir is required")
	}
	if err := validDate("start date", c.StartDate); err != nil {
		return err
	}
	if err := validDate("end date", c.EndDate); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

func validDate(name, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return fmt.Errorf("config: invalid %s %q (want YYYY-MM-DD)", name, value)
	}
	return nil
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
