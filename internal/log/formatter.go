// Package log provides logrus formatter configuration for bookstore-sync.
package log

import (
	"github.com/sirupsen/logrus"
)

// NewFormatter returns the formatter used across the application.
// Pass json=true for machine-readable output (e.g. when running under a
// log collector), false for human-readable console output.
func NewFormatter(json bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}
