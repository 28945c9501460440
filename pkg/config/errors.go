package config

import "fmt"

// MissingKeyError is returned when a required configuration value is absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return "missing required configuration value: " + e.Key
}

// InvalidValueError is returned when a configuration value is present but
// unusable.
type InvalidValueError struct {
	Key    string
	Value  any
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid configuration value %s=%v: %s", e.Key, e.Value, e.Reason)
}

func missing(key string) error {
	return &MissingKeyError{Key: key}
}

func invalid(key string, value any, reason string) error {
	return &InvalidValueError{Key: key, Value: value, Reason: reason}
}
