package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string // config key, e.g. "consensus.weights.melchior"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every ValidationError found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

var (
	validDrivers = []string{"memory", "sqlite"}
	validFormats = []string{"json", "text"}
)

// Validate reports settings that cannot be normalized silently.
// Policy, criticality and timeouts are normalized by Load, never rejected.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	weights := []struct {
		field string
		value float64
	}{
		{"consensus.weights.melchior", c.Consensus.Weights.Melchior},
		{"consensus.weights.balthasar", c.Consensus.Weights.Balthasar},
		{"consensus.weights.caspar", c.Consensus.Weights.Caspar},
		{"consensus.conditional_weight", c.Consensus.ConditionalWeight},
	}
	for _, w := range weights {
		if w.value < 0 {
			errs = append(errs, ValidationError{Field: w.field, Value: w.value, Message: "must not be negative"})
		}
	}

	if !slices.Contains(validDrivers, c.Session.Driver) {
		errs = append(errs, ValidationError{
			Field:   "session.driver",
			Value:   c.Session.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validDrivers, ", ")),
		})
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validFormats, ", ")),
		})
	}
	if c.Server.ShutdownTimeoutSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Value:   c.Server.ShutdownTimeoutSeconds,
			Message: "must not be negative",
		})
	}
	for _, id := range generator.Canonical {
		b := c.Backend(id)
		if b.URL != "" && !hasScheme(b.URL) {
			errs = append(errs, ValidationError{
				Field:   "backends." + string(id) + ".url",
				Value:   b.URL,
				Message: "must start with http://, https:// or grpc://",
			})
		}
	}
	return errs
}

func hasScheme(url string) bool {
	for _, p := range []string{"http://", "https://", "grpc://"} {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
