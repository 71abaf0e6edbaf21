package gormstore

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
)

// zerologWriter adapts a zerolog.Logger to GORM's logger.Writer.
type zerologWriter struct {
	log zerolog.Logger
}

func (w zerologWriter) Printf(format string, args ...any) {
	w.log.Debug().Msgf(format, args...)
}

// NewLogger returns a GORM logger writing through l. Slow statements and
// errors are reported at the given level; record-not-found is not an error here.
func NewLogger(l zerolog.Logger, level logger.LogLevel) logger.Interface {
	return logger.New(zerologWriter{log: l.With().Str("component", "gorm").Logger()}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
