// loader.go implements the configuration loading lifecycle for the relaypoint
// workers.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
//  5. Parse and validate derived values (secret rotation expiry).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType classifies configuration failures for diagnostics.
type ConfigErrorType string

const (
	ErrParsing    ConfigErrorType = "parsing"
	ErrValidation ConfigErrorType = "validation"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load loads and validates the relaypoint configuration from the environment.
//
// A .env file in the working directory is loaded first if present; it never
// overrides variables already set in the OS environment.
func Load() (*Config, error) {
	// Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// godotenv.Load() silently succeeds if no .env file exists and does not
	// override existing environment variables.
	_ = godotenv.Load()

	// The empty prefix "" means envconfig uses the exact tag values
	// (e.g., envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// Parse once at load time so a malformed timestamp fails the cold start
	// instead of silently disabling the rotation grace period.
	if _, err := cfg.Webhook.PreviousSecretExpiry(); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "invalid WEBHOOK_SIGNING_SECRET_PREVIOUS_EXPIRES_AT",
			Err:     err,
		}
	}

	return &cfg, nil
}

// PreviousSecretExpiry parses the rotation grace period deadline. The zero
// time is returned when no previous secret expiry is configured.
func (w WebhookConfig) PreviousSecretExpiry() (time.Time, error) {
	if w.PreviousSecretExpiresAt == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, w.PreviousSecretExpiresAt)
}
