package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers ratelimitd-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: a positive Go duration string
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRedisBackend(); err != nil {
		return err
	}

	// Plan names, ordering and quotas
	if _, err := c.PolicyTable(); err != nil {
		return fmt.Errorf("plans: %w", err)
	}

	return nil
}

// validateRedisBackend checks the fields the redis backend cannot run without.
func (c *Config) validateRedisBackend() error {
	if c.Limiter.Backend != "redis" {
		return nil
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required when limiter.backend is redis")
	}
	if c.Redis.MinBackoff != "" && c.Redis.MaxBackoff != "" &&
		duration(c.Redis.MaxBackoff) < duration(c.Redis.MinBackoff) {
		return fmt.Errorf("redis.max_backoff (%s) must not be shorter than redis.min_backoff (%s)",
			c.Redis.MaxBackoff, c.Redis.MinBackoff)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration such as \"100ms\" or \"1m\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
