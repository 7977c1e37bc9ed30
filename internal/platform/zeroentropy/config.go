package zeroentropy

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const DefaultBaseURL = "https://api.zeroentropy.dev/v1"

type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

type ConfigErrorCode string

const (
	ConfigErrorMissingAPIKey  ConfigErrorCode = "missing_api_key"
	ConfigErrorInvalidBaseURL ConfigErrorCode = "invalid_base_url"
	ConfigErrorInvalidTimeout ConfigErrorCode = "invalid_timeout"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid zeroentropy config"
	}
	switch e.Code {
	case ConfigErrorMissingAPIKey:
		return "ZEROENTROPY_API_KEY is required"
	case ConfigErrorInvalidBaseURL:
		return fmt.Sprintf(
			"invalid ZEROENTROPY_BASE_URL=%q; expected absolute URL like https://api.zeroentropy.dev/v1",
			e.Value,
		)
	case ConfigErrorInvalidTimeout:
		return fmt.Sprintf(
			"invalid ZEROENTROPY_TIMEOUT_SECONDS=%q; expected positive integer",
			e.Value,
		)
	default:
		return "invalid zeroentropy config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	rawTimeout := strings.TrimSpace(os.Getenv("ZEROENTROPY_TIMEOUT_SECONDS"))
	timeout := 30
	if rawTimeout != "" {
		parsed, err := strconv.Atoi(rawTimeout)
		if err != nil || parsed <= 0 {
			return Config{}, &ConfigError{
				Code:  ConfigErrorInvalidTimeout,
				Value: rawTimeout,
				Cause: err,
			}
		}
		timeout = parsed
	}

	cfg := Config{
		BaseURL:        strings.TrimSpace(os.Getenv("ZEROENTROPY_BASE_URL")),
		APIKey:         strings.TrimSpace(os.Getenv("ZEROENTROPY_API_KEY")),
		TimeoutSeconds: timeout,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.APIKey == "" {
		return &ConfigError{Code: ConfigErrorMissingAPIKey}
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{
			Code:  ConfigErrorInvalidBaseURL,
			Value: cfg.BaseURL,
			Cause: err,
		}
	}
	if cfg.TimeoutSeconds <= 0 {
		return &ConfigError{
			Code:  ConfigErrorInvalidTimeout,
			Value: strconv.Itoa(cfg.TimeoutSeconds),
		}
	}
	return nil
}
