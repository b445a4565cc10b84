package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/hexaflow/hexaflow/internal/pool"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "engine.max_concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePlan()...)

	return errors
}

// validateEngine validates the EngineConfig
func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError

	// 0 means auto; anything else must fit the pool's hard bounds
	if c.Engine.MaxConcurrency != 0 &&
		(c.Engine.MaxConcurrency < 1 || c.Engine.MaxConcurrency > pool.MaxConcurrencyCeiling) {
		errors = append(errors, ValidationError{
			Field:   "engine.max_concurrency",
			Value:   c.Engine.MaxConcurrency,
			Message: fmt.Sprintf("must be between 1 and %d (0 = auto)", pool.MaxConcurrencyCeiling),
		})
	}

	if c.Engine.DefaultTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.default_timeout_ms",
			Value:   c.Engine.DefaultTimeoutMs,
			Message: "must be non-negative (0 disables timeout)",
		})
	}

	if c.Engine.DefaultMaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.default_max_retries",
			Value:   c.Engine.DefaultMaxRetries,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	// Log directory must not contain null bytes
	if strings.ContainsRune(c.Logging.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "logging.dir",
			Value:   c.Logging.Dir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

// validatePlan validates the PlanConfig
func (c *Config) validatePlan() []ValidationError {
	var errors []ValidationError

	if c.Plan.File == "" {
		errors = append(errors, ValidationError{
			Field:   "plan.file",
			Value:   c.Plan.File,
			Message: "cannot be empty",
		})
	}

	if c.Plan.Only != "" {
		if _, err := glob.Compile(c.Plan.Only); err != nil {
			errors = append(errors, ValidationError{
				Field:   "plan.only",
				Value:   c.Plan.Only,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	return errors
}
