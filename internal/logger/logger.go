package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "chesshub-gateway").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("Logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// WebSocket creates a logger for WebSocket server events
func WebSocket() *zerolog.Logger {
	l := Log.With().Str("component", "websocket").Logger()
	return &l
}

// Hub creates a logger for dispatch engine events
func Hub() *zerolog.Logger {
	l := Log.With().Str("component", "hub").Logger()
	return &l
}

// Bus creates a logger for message bus events
func Bus() *zerolog.Logger {
	l := Log.With().Str("component", "bus").Logger()
	return &l
}

// Session creates a logger for session store events
func Session() *zerolog.Logger {
	l := Log.With().Str("component", "session").Logger()
	return &l
}

// Analysis creates a logger for chess analysis events
func Analysis() *zerolog.Logger {
	l := Log.With().Str("component", "analysis").Logger()
	return &l
}
