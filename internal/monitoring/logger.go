// Package monitoring provides the diagnostic logger shared by the imaging
// packages.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that prefixes every line with "[name] ", the
// convention used across the gridding packages (e.g. "[CFCache]").
// The returned function reads Logf at call time so SetLogger still applies.
func Component(name string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[%s] ", name)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
