package world

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig matches every ConfigError via errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigError reports a parameter rejected at agent construction.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DuplicateIDError is returned by AddAgent when the id is already registered.
type DuplicateIDError struct {
	ID int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("agent with id %d already exists", e.ID)
}
