package testutils

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that writes to w at debug level, or discards
// everything when w is nil.
func NewLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	if w == nil {
		logger.SetOutput(io.Discard)
		return logger
	}
	logger.SetOutput(w)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}
