package models

import (
	"errors"
	"fmt"
)

var (
	ErrConfig     = errors.New("configuration error")
	ErrEmbedding  = errors.New("embedding service failure")
	ErrGeneration = errors.New("generation service failure")
	ErrIndex      = errors.New("vector index failure")
)

// ConfigError names the configuration item that stopped startup
type ConfigError struct {
	Item   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Item, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// NewConfigError builds a ConfigError with a formatted reason
func NewConfigError(item, format string, args ...any) error {
	return &ConfigError{Item: item, Reason: fmt.Sprintf(format, args...)}
}
