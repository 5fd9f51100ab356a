// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

// Exchange kind strings for ExchangeInfo.Kind.
const (
	ExchangeHandshake = "handshake"
	ExchangeQuery     = "query"
	ExchangeCommand   = "command"
	ExchangeFetch     = "fetch"
)

// ExchangeHook provides observability callpoints around each
// request/response exchange on a session. A session performs one exchange
// at a time, but independent sessions may share a hook, so implementations
// must be safe for concurrent use.
type ExchangeHook interface {
	OnExchangeStart(info ExchangeInfo) HookToken
	OnExchangeEnd(token HookToken, info ExchangeInfo, stats *ExchangeStatistics, err error)
}

// HookToken is an opaque value returned by OnExchangeStart and passed back
// to OnExchangeEnd. Only meaningful to the ExchangeHook that created it.
type HookToken interface{}

// ExchangeInfo carries exchange metadata passed to hooks.
type ExchangeInfo struct {
	SessionID string // engine-assigned session identifier
	Database  string
	Kind      string // one of the Exchange* constants
	Statement string // statement or command text, empty for the handshake
}

// ExchangeStatistics holds per-exchange I/O counters.
type ExchangeStatistics struct {
	BytesSent     int64
	BytesReceived int64
	LinesParsed   int64
	RowsDecoded   int64
}

// RecordSend records one outgoing logical message.
func (s *ExchangeStatistics) RecordSend(bytes int64) {
	s.BytesSent += bytes
}

// RecordLine records one parsed response line.
func (s *ExchangeStatistics) RecordLine(bytes int64, isRow bool) {
	s.BytesReceived += bytes
	s.LinesParsed++
	if isRow {
		s.RowsDecoded++
	}
}
