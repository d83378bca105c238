// Package slogx provides slog attribute helpers shared across the runtime.
package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns an attribute with key "error" and the error's message.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Stringer returns an attribute holding the string form of a fmt.Stringer,
// handy for the identity types which all implement it.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// KeyLoggerName is the attribute key naming the logger that emitted a record.
const KeyLoggerName = "logger"

// LoggerName returns an attribute carrying the logger name.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}
