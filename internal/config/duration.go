package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var errNegativeDuration = errors.New("must not be negative")

// parseDuration reads an optional Go duration string. Empty means zero.
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errNegativeDuration
	}
	return d, nil
}

// checkDuration reports a bad duration field under its config path.
func checkDuration(path, raw string) error {
	if _, err := parseDuration(raw); err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	return nil
}

// durationOr returns def when raw is empty, zero or invalid.
func durationOr(raw string, def time.Duration) time.Duration {
	if d, err := parseDuration(raw); err == nil && d > 0 {
		return d
	}
	return def
}
