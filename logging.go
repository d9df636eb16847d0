package noisenet

import (
	"github.com/sirupsen/logrus"
)

// logEntry returns the base entry for a component of this package.
func (o *Options) logEntry(component string) *logrus.Entry {
	logger := o.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"package":   "noisenet",
		"component": component,
	})
}
