// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

// Package mapi implements a client engine for the MAPI wire protocol, the
// text-based block protocol spoken by MonetDB servers.
//
// The engine layers cleanly: a [Framer] splits logical messages into
// length-prefixed blocks and reassembles them, a [Session] runs the
// challenge-response handshake and one request/response exchange at a time,
// and a line dispatcher turns each server reply into exactly one [Response]
// variant or an error.
//
// # Sessions
//
// A session is created over an established transport with [Connect], or
// dialed directly with [Dial]. Statements run through [Session.Execute] and
// protocol commands through [Session.Command]:
//
//	sess, err := mapi.Dial(ctx, "localhost:50000", cfg)
//	...
//	resp, err := sess.Execute(ctx, "SELECT i, s FROM t")
//
// A session is single-threaded by construction. Transport and protocol
// failures poison it ([Session.Broken]); server errors do not.
//
// # Results and windows
//
// Tabular results are cursors: a [TableResult] materializes rows one window
// at a time through [Session.Fetch], holding at most one [RowBlock] in
// memory. Fixed-width numeric columns decode into dense typed slices using
// minimum-value null sentinels; everything else is boxed with an explicit
// null mask. Running another statement on the session invalidates earlier
// results; fetching from one then fails with [KindStaleResult].
//
// Row windows convert to Arrow record batches with [RowBlock.Record] for
// interchange with columnar tooling.
//
// # Observability
//
// Diagnostics go to a log/slog logger gated by [Config.TraceLevel]. An
// [ExchangeHook] observes every exchange with byte and row counters; the
// otel subpackage provides an OpenTelemetry implementation.
package mapi
