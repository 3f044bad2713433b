package secrets

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError lists settings that are required but unusable.
type ValidationError struct {
	Empty   []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Empty) > 0 {
		parts = append(parts, fmt.Sprintf("empty values for required environment variables: %s", strings.Join(e.Empty, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid environment variables: %s", strings.Join(e.Invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}

// ValidateRequired checks that every setting, keyed by its environment
// variable name, is non-blank. Names in the error are sorted.
func ValidateRequired(settings map[string]string) error {
	var empty []string
	for name, value := range settings {
		if strings.TrimSpace(value) == "" {
			empty = append(empty, name)
		}
	}
	if len(empty) == 0 {
		return nil
	}
	sort.Strings(empty)
	return &ValidationError{Empty: empty}
}

// ValidateURL checks that raw parses as a URL with a host and one of the
// given schemes. The value is never echoed since it may carry credentials.
func ValidateURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &ValidationError{Invalid: []string{name}}
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return &ValidationError{Invalid: []string{name + " (scheme " + u.Scheme + ")"}}
}
