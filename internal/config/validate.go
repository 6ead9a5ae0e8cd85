package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedFormats is the set of valid log output formats.
var recognizedFormats = map[string]bool{
	"console": true,
	"json":    true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Controller.Endpoint == "" {
		errs = append(errs, ValidationError{
			Field:   "controller.endpoint",
			Message: fmt.Sprintf("is required (or set %s)", EnvControllerEndpoint),
		})
	} else if u, err := url.Parse(cfg.Controller.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "controller.endpoint",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.Controller.Endpoint),
		})
	}

	validatePositiveDuration("controller.timeout", cfg.Controller.Timeout, &errs)
	validatePositiveDuration("polling.interval", cfg.Polling.Interval, &errs)
	if d, err := time.ParseDuration(cfg.Polling.Retention); err != nil {
		errs = append(errs, ValidationError{
			Field:   "polling.retention",
			Message: fmt.Sprintf("invalid duration %q", cfg.Polling.Retention),
		})
	} else if d < 0 {
		errs = append(errs, ValidationError{
			Field:   "polling.retention",
			Message: "must not be negative",
		})
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unrecognized level %q", cfg.Log.Level),
		})
	}
	if !recognizedFormats[cfg.Log.Format] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("unrecognized format %q", cfg.Log.Format),
		})
	}

	return errs
}

func validatePositiveDuration(field, value string, errs *[]ValidationError) {
	d, err := time.ParseDuration(value)
	switch {
	case err != nil:
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", value),
		})
	case d <= 0:
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
}
