package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// New создает JSON-логгер; неизвестный уровень заменяется на info
func New(logLevel string) *logrus.Logger {
	return newWithOutput(logLevel, os.Stdout)
}

func newWithOutput(logLevel string, out io.Writer) *logrus.Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	log.SetOutput(out)

	level, err := logrus.ParseLevel(strings.TrimSpace(logLevel))
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.WithField("level", logLevel).Warn("Unknown log level, using info")
		return log
	}
	log.SetLevel(level)
	return log
}
