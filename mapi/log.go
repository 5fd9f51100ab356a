// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import "log/slog"

// LogLevel controls how much of the engine's activity is written to the
// session logger.
type LogLevel string

const (
	// LogError logs only failures that break the session.
	LogError LogLevel = "ERROR"
	// LogWarn additionally logs recoverable oddities such as best-effort
	// type fallbacks.
	LogWarn LogLevel = "WARN"
	// LogInfo logs session lifecycle events (handshake, close).
	LogInfo LogLevel = "INFO"
	// LogDebug logs one line per request/response exchange.
	LogDebug LogLevel = "DEBUG"
	// LogTrace logs complete wire messages. Verbose.
	LogTrace LogLevel = "TRACE"
)

// logLevelPriority returns a numeric priority for log levels (lower = more severe).
func logLevelPriority(level LogLevel) int {
	switch level {
	case LogError:
		return 0
	case LogWarn:
		return 1
	case LogInfo:
		return 2
	case LogDebug:
		return 3
	case LogTrace:
		return 4
	default:
		return 5
	}
}

// slogLevel maps a LogLevel to its log/slog equivalent. Trace has no slog
// counterpart and maps below Debug.
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LogError:
		return slog.LevelError
	case LogWarn:
		return slog.LevelWarn
	case LogInfo:
		return slog.LevelInfo
	case LogDebug:
		return slog.LevelDebug
	default:
		return slog.LevelDebug - 4
	}
}
