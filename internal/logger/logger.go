package logger

import (
	"fmt"
	"os"

	"artnet2ha/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Log struct {
	*logrus.Entry
}

// NewLogger builds the process logger from the [logger] config section.
// An empty file path logs to stdout; otherwise output goes to a rotated file.
func NewLogger(cfg config.LogConf) (*Log, error) {
	log := logrus.New()

	if cfg.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
		log.Formatter = &logrus.TextFormatter{
			TimestampFormat:  "2006-01-02 15:04:05.0000",
			DisableColors:    true,
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		}
	} else {
		log.SetOutput(os.Stdout)
		log.Formatter = &logrus.TextFormatter{
			TimestampFormat:  "2006-01-02 15:04:05.0000",
			DisableColors:    false,
			ForceColors:      true,
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		}
		// Disable concurrency mutex as we use Stdout.
		log.SetNoLock()
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: bad level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	return &Log{Entry: log.WithFields(nil)}, nil
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger is the logging surface the bridge components consume.
type Logger interface {
	// GetLevel reports the configured level name.
	GetLevel() string
	With(fields Fields) *Log
}
