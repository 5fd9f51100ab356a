// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config carries everything a session needs beyond the transport itself.
// The zero value is usable for anonymous local testing; DefaultConfig fills
// in the documented defaults explicitly.
type Config struct {
	// User and Password authenticate against the server.
	User     string
	Password string
	// Database names the target database; servers behind a proxy use it to
	// route the connection.
	Database string
	// Language selects the protocol dialect. Defaults to LanguageSQL.
	Language Language
	// HashPreference is the ordered list of credential digest algorithms the
	// client is willing to use, strongest first. Defaults to
	// DefaultHashPreference.
	HashPreference []HashAlgo
	// ReplySize is the requested number of rows per result window.
	// Defaults to 250.
	ReplySize int
	// BlockSize bounds outgoing block payloads. Defaults to DefaultBlockSize.
	BlockSize int
	// ReadTimeout bounds each blocking read on the transport. On expiry the
	// session transitions to Broken; there are no silent partial reads.
	// Zero disables the timeout.
	ReadTimeout time.Duration
	// TraceLevel gates how much engine activity goes to Logger.
	// Defaults to LogWarn.
	TraceLevel LogLevel
	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Clock supplies the time source for read deadlines. Defaults to the
	// real clock; tests substitute a fake.
	Clock clockwork.Clock
	// Hook, if non-nil, observes every exchange on the session.
	Hook ExchangeHook
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Language:       LanguageSQL,
		HashPreference: DefaultHashPreference,
		ReplySize:      250,
		BlockSize:      DefaultBlockSize,
		TraceLevel:     LogWarn,
	}
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = LanguageSQL
	}
	if len(c.HashPreference) == 0 {
		c.HashPreference = DefaultHashPreference
	}
	if c.ReplySize <= 0 {
		c.ReplySize = 250
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.TraceLevel == "" {
		c.TraceLevel = LogWarn
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}
