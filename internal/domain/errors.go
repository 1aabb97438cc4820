package domain

import (
	"errors"
	"fmt"
)

// ConfigError marks an invalid-configuration condition: bad weights,
// unknown task id, a cycle in the DAG. Fatal at load per the error
// handling design — callers that see a ConfigError should refuse to
// start rather than attempt to run degraded.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func errInvalidConfig(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
