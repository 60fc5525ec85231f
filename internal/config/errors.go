package config

import "errors"

var (
	// ErrConfigNotFound is returned when the settings document does not exist.
	ErrConfigNotFound = errors.New("settings document not found")

	// ErrConfigInvalid is returned when the settings document cannot be parsed.
	ErrConfigInvalid = errors.New("settings document invalid")
)
