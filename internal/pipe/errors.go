package pipe

import "fmt"

// ConfigError is returned when a pipe is constructed with an unusable configuration
type ConfigError struct {
	msg string
}

func NewConfigError(msg string) *ConfigError {
	return &ConfigError{msg}
}

func (e *ConfigError) Error() string {
	return e.msg
}

// UnsupportedError is returned when an operation is requested from a pipe that lacks
// the capability
type UnsupportedError struct {
	Pipe   string
	Method string
}

func NewUnsupportedError(pipe, method string) *UnsupportedError {
	return &UnsupportedError{Pipe: pipe, Method: method}
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Pipe, e.Method)
}
