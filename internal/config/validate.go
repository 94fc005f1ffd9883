package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedFormats = map[string]bool{
	"text":   true,
	"json":   true,
	"logfmt": true,
}

var recognizedTransports = map[string]bool{
	"rest": true,
	"gh":   true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("unrecognized level %q", cfg.Log.Level)})
	}
	if !recognizedFormats[cfg.Log.Format] {
		errs = append(errs, ValidationError{Field: "log.format", Message: fmt.Sprintf("unrecognized format %q", cfg.Log.Format)})
	}

	validateChecks(cfg.Checks, &errs)
	validatePipeline(cfg.Pipeline, &errs)
	return errs
}

func validateChecks(c Checks, errs *[]ValidationError) {
	for i, p := range c.Platforms {
		if !pipeline.Platform(strings.ToUpper(p)).Valid() {
			*errs = append(*errs, ValidationError{
				Field:   fmt.Sprintf("checks.platforms[%d]", i),
				Message: fmt.Sprintf("unrecognized platform %q", p),
			})
		}
	}

	gh := c.GitHub
	if !recognizedTransports[gh.Transport] {
		*errs = append(*errs, ValidationError{Field: "checks.github.transport", Message: fmt.Sprintf("unrecognized transport %q", gh.Transport)})
	}
	if d, err := time.ParseDuration(gh.Timeout); err != nil || d <= 0 {
		*errs = append(*errs, ValidationError{Field: "checks.github.timeout", Message: fmt.Sprintf("invalid duration %q", gh.Timeout)})
	}
	if gh.MaxRetries < 0 {
		*errs = append(*errs, ValidationError{Field: "checks.github.max_retries", Message: "must not be negative"})
	}
	if c.Enabled && gh.Transport == "rest" && gh.Token == "" && len(gh.OrgTokens) == 0 && !c.NullFallback {
		*errs = append(*errs, ValidationError{Field: "checks.github.token", Message: "is required for the rest transport"})
	}
}

func validatePipeline(p Pipeline, errs *[]ValidationError) {
	names := make(map[string]bool)
	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.Name == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if names[s.Name] {
			*errs = append(*errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate stage %q", s.Name)})
		}
		names[s.Name] = true
	}

	for i, s := range p.Stages {
		if s.SkipTo == "" {
			continue
		}
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.Skip == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".skip_to", Message: "requires skip"})
		}
		if !names[s.SkipTo] {
			*errs = append(*errs, ValidationError{Field: prefix + ".skip_to", Message: fmt.Sprintf("references undefined stage %q", s.SkipTo)})
		}
	}
}
