// Package vklog is a thin severity-prefixed wrapper around the standard
// library logger. It exists because validation warnings (§7) are logged,
// never fatal, and the debug-report callback needs a severity-to-prefix
// mapping the way a structured logger would give for free — but nothing in
// this module's corpus ever imports a structured-logging library, so this
// wraps log.Logger instead of inventing a dependency that isn't grounded.
package vklog

import (
	"log"
	"os"
)

// Severity classifies a log line the way Vulkan's debug-report flags do.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityPerformanceWarning
	SeverityError
	SeverityDebug
)

func (s Severity) prefix() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityPerformanceWarning:
		return "PERFORMANCE WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// Logger is the package-wide sink; tests may swap it for one writing to a
// buffer.
var Logger = log.New(os.Stderr, "", log.LstdFlags)

// Logf logs a message at the given severity.
func Logf(sev Severity, format string, args ...any) {
	Logger.Printf("%s: "+format, append([]any{sev.prefix()}, args...)...)
}

func Errorf(format string, args ...any) { Logf(SeverityError, format, args...) }
func Warnf(format string, args ...any)  { Logf(SeverityWarning, format, args...) }
func Debugf(format string, args ...any) { Logf(SeverityDebug, format, args...) }
func Infof(format string, args ...any)  { Logf(SeverityInfo, format, args...) }
