package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/worldgate/server/internal/config"
)

// Setup configures the global logrus logger from configuration.
// Call once at process start, before any component logs.
func Setup(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	logrus.SetOutput(os.Stdout)
}
