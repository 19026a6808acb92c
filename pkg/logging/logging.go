// Package logging defines the logger interface used throughout the
// conversion pipeline.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface accepted by every component. It is
// satisfied by *logrus.Entry and *logrus.Logger. The Writer method exposes an
// io.Writer-compatible escape hatch for bridging to APIs that only accept a
// stdlib *log.Logger (e.g. cgo error callbacks from a native decoder).
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// NewDefault returns a Logger backed by logrus's standard logger.
func NewDefault() Logger {
	return logrus.NewEntry(logrus.StandardLogger())
}

// Component returns a child logger tagged with a "component" field, the
// convention used across every package in this module.
func Component(log Logger, name string) Logger {
	return log.WithField("component", name)
}
