// Package logger wraps the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"m0n1t0r_go/internal/types"
)

// Init 根据 LogConf 配置全局 zerolog logger
func Init(conf types.LogConf) error {
	level, err := parseLevel(conf.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if conf.File != "" {
		f, err := os.OpenFile(conf.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", conf.File, err)
		}
		out = f
	}

	switch strings.ToLower(conf.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: conf.File != ""}
	case "json":
	default:
		return fmt.Errorf("unknown log format %q", conf.Format)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(s))
}

// With returns a child context of the global logger.
func With() zerolog.Context { return log.Logger.With() }

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }
