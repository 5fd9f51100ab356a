// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

// Package mapitest provides a scripted in-process MAPI server for testing
// clients of the protocol. It speaks real block framing and a real
// challenge-response handshake, verifies credential digests, and answers
// statements from registered fixtures: tabular results with windowed
// export, update counts, schema replies, server errors, and fault
// injection (stalls, connection drops, raw bytes).
//
// The only entry points intended for external use are [NewServer] and the
// fixture types [Table], [Column] and [Result]. A server typically runs
// over one end of a net.Pipe in tests, or over a listener via [Server.Listen]
// for out-of-process conformance runs.
package mapitest
