package maestro

import (
	"errors"
	"fmt"
)

// Orchestrator errors
var (
	ErrDependencyCycle  = errors.New("dependency cycle")
	ErrUnserializable   = errors.New("job cannot be serialized")
	ErrDocumentVersion  = errors.New("unsupported document version")
	ErrDocumentNotFound = errors.New("document not found")
	ErrMalformed        = errors.New("malformed document")
)

// ConfigError reports invalid registration or orchestrator settings
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("maestro %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
