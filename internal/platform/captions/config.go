package captions

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultWatchBaseURL = "https://www.youtube.com"

	// Desktop UA keeps the watch page in the variant whose player response
	// embeds the caption track list.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type Config struct {
	WatchBaseURL           string
	UserAgent              string
	TimeoutSeconds         int
	RetryMaxElapsedSeconds int
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidBaseURL     ConfigErrorCode = "invalid_base_url"
	ConfigErrorInvalidTimeout     ConfigErrorCode = "invalid_timeout"
	ConfigErrorInvalidRetryWindow ConfigErrorCode = "invalid_retry_window"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid captions config"
	}
	switch e.Code {
	case ConfigErrorInvalidBaseURL:
		return fmt.Sprintf(
			"invalid CAPTIONS_WATCH_BASE_URL=%q; expected absolute URL like https://www.youtube.com",
			e.Value,
		)
	case ConfigErrorInvalidTimeout:
		return fmt.Sprintf(
			"invalid CAPTIONS_TIMEOUT_SECONDS=%q; expected positive integer",
			e.Value,
		)
	case ConfigErrorInvalidRetryWindow:
		return fmt.Sprintf(
			"invalid CAPTIONS_RETRY_MAX_ELAPSED_SECONDS=%q; expected positive integer",
			e.Value,
		)
	default:
		return "invalid captions config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	timeout, err := positiveIntEnv("CAPTIONS_TIMEOUT_SECONDS", 20, ConfigErrorInvalidTimeout)
	if err != nil {
		return Config{}, err
	}
	retryWindow, err := positiveIntEnv("CAPTIONS_RETRY_MAX_ELAPSED_SECONDS", 15, ConfigErrorInvalidRetryWindow)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		WatchBaseURL:           strings.TrimSpace(os.Getenv("CAPTIONS_WATCH_BASE_URL")),
		UserAgent:              strings.TrimSpace(os.Getenv("CAPTIONS_USER_AGENT")),
		TimeoutSeconds:         timeout,
		RetryMaxElapsedSeconds: retryWindow,
	}
	if cfg.WatchBaseURL == "" {
		cfg.WatchBaseURL = DefaultWatchBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	parsed, err := url.Parse(cfg.WatchBaseURL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{
			Code:  ConfigErrorInvalidBaseURL,
			Value: cfg.WatchBaseURL,
			Cause: err,
		}
	}
	if cfg.TimeoutSeconds <= 0 {
		return &ConfigError{
			Code:  ConfigErrorInvalidTimeout,
			Value: strconv.Itoa(cfg.TimeoutSeconds),
		}
	}
	if cfg.RetryMaxElapsedSeconds <= 0 {
		return &ConfigError{
			Code:  ConfigErrorInvalidRetryWindow,
			Value: strconv.Itoa(cfg.RetryMaxElapsedSeconds),
		}
	}
	return nil
}

func positiveIntEnv(key string, fallback int, code ConfigErrorCode) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, &ConfigError{Code: code, Value: raw, Cause: err}
	}
	return parsed, nil
}
