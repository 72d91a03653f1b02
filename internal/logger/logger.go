package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string
	Format     string
	Output     string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type Logger struct {
	log    *logrus.Logger
	closer io.Closer
}

// New builds a logger writing to stdout or, when Output names a file, to a
// lumberjack-rotated file. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	log := logrus.New()
	l := &Logger{log: log}

	toFile := cfg.Output != "" && cfg.Output != "stdout"
	if toFile {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		log.SetOutput(rotated)
		l.closer = rotated
	} else {
		log.SetOutput(os.Stdout)
	}

	log.SetFormatter(formatter(cfg.Format, !toFile))

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return l
}

func formatter(format string, colors bool) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		ForceColors:     colors,
		DisableColors:   !colors,
	}
}

func (l *Logger) Info(msg string) {
	l.log.Info(msg)
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.log.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.log.WithError(err)
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.log.WithField("component", component)
}

func (l *Logger) WithAsset(asset common.Address) *logrus.Entry {
	return l.log.WithField("asset", asset.Hex())
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Discard returns a logger that writes nowhere. Used by tests.
func Discard() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{log: log}
}
