package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedTopology = errors.New("unsupported topology")
	ErrInvalidValue        = errors.New("invalid value")
)

// Problem is one rejected configuration entry.
type Problem struct {
	Key string
	Err error
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %v", p.Key, p.Err)
}

// ConfigurationError reports every problem found while resolving a configuration.
// It is returned before any daemon contact.
type ConfigurationError struct {
	Problems []Problem
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) Unwrap() []error {
	errs := make([]error, len(e.Problems))
	for i, p := range e.Problems {
		errs[i] = p.Err
	}
	return errs
}

func (e *ConfigurationError) add(key string, err error) {
	e.Problems = append(e.Problems, Problem{Key: key, Err: err})
}

func (e *ConfigurationError) addf(key, format string, args ...any) {
	e.add(key, fmt.Errorf("%w: "+format, append([]any{ErrInvalidValue}, args...)...))
}

func (e *ConfigurationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
