// Package obs wires process-wide logging: logrus with rotated file output
// and a runtime-adjustable level.
package obs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "deepclaude.log"

// SetupLogging directs logrus to stdout plus a rotated file under dir and
// applies the stored log level.
func SetupLogging(dir, level string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    10, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, rotated))
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return SetLevel(level)
}

// SetLevel applies a log level by name. The admin surface calls this when
// the log_level setting changes.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	logrus.Debugf("log level set to %s", parsed)
	return nil
}
