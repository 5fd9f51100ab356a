// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// deadlineConn is the subset of net.Conn the session uses to bound reads and
// to abort an exchange when its context is cancelled. Transports that do not
// implement it (plain pipes, buffers) simply run without deadlines.
type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

// Session is a single authenticated protocol conversation over one
// transport. It owns the connection: exactly one exchange is in flight at a
// time, and a Session is not safe for concurrent use.
//
// Transport and protocol failures poison the session: Broken reports true
// and every further call fails. Server errors do not; the session stays
// usable for the next statement.
type Session struct {
	id     uuid.UUID
	conn   io.ReadWriteCloser
	framer *Framer
	cfg    Config
	clock  clockwork.Clock
	log    *slog.Logger
	hook   ExchangeHook

	language   Language
	replySize  int
	autoCommit bool

	// gen counts statements executed on this session. Each TableResult
	// remembers the generation it was created under; a mismatch means the
	// server-side cursor is gone.
	gen    uint64
	broken bool
	closed bool

	traceLevel int
}

// Connect performs the challenge-response handshake on an established
// transport and returns an authenticated session.
//
// A proxy redirect verdict restarts the handshake on the same connection; at
// most one such restart is followed. A host redirect is returned as a
// *Redirect error so the caller can reconnect against Redirect.Addr.
func Connect(ctx context.Context, conn io.ReadWriteCloser, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		id:         uuid.New(),
		conn:       conn,
		framer:     NewFramer(conn, cfg.BlockSize),
		cfg:        cfg,
		clock:      cfg.Clock,
		hook:       cfg.Hook,
		language:   cfg.Language,
		replySize:  cfg.ReplySize,
		autoCommit: true,
		traceLevel: logLevelPriority(cfg.TraceLevel),
	}
	s.log = cfg.Logger.With("session", s.id.String(), "database", cfg.Database)

	info := ExchangeInfo{
		SessionID: s.id.String(),
		Database:  cfg.Database,
		Kind:      ExchangeHandshake,
	}
	stats := &ExchangeStatistics{}
	var token HookToken
	if s.hook != nil {
		token = s.hook.OnExchangeStart(info)
	}
	err := s.handshake(ctx, stats)
	if s.hook != nil {
		s.hook.OnExchangeEnd(token, info, stats, err)
	}
	if err != nil {
		return nil, err
	}

	// The server's default result window rarely matches ours; pin it now so
	// Fetch arithmetic holds for the whole session.
	if _, err := s.exchange(ctx, ExchangeCommand,
		s.language.commandTemplate(fmt.Sprintf("reply_size %d", s.replySize)), nil, false); err != nil {
		return nil, err
	}
	s.logAt(LogInfo, "session established", "reply_size", s.replySize)
	return s, nil
}

func (s *Session) handshake(ctx context.Context, stats *ExchangeStatistics) error {
	for attempt := 0; ; attempt++ {
		stop := s.watchContext(ctx)
		s.armReadDeadline()
		raw, err := s.framer.Receive()
		stop()
		if err != nil {
			return s.fail(err)
		}
		stats.RecordLine(int64(len(raw)), false)
		s.logAt(LogTrace, "received challenge", "raw", string(raw))

		challenge, err := parseChallenge(strings.TrimRight(string(raw), "\n"))
		if err != nil {
			return s.fail(err)
		}
		algo, err := selectAlgorithm(challenge.Algos, s.cfg.HashPreference)
		if err != nil {
			return err
		}
		digest, err := credentialDigest(algo, challenge, s.cfg.Password)
		if err != nil {
			return err
		}
		reply := credentialsLine(s.cfg.User, algo, digest, s.language, s.cfg.Database)

		stop = s.watchContext(ctx)
		err = s.framer.Send([]byte(reply))
		if err != nil {
			stop()
			return s.fail(err)
		}
		stats.RecordSend(int64(len(reply)))
		s.armReadDeadline()
		verdict, err := s.framer.Receive()
		stop()
		if err != nil {
			return s.fail(err)
		}
		stats.RecordLine(int64(len(verdict)), false)

		redirect, err := s.parseVerdict(string(verdict))
		if err != nil {
			return err
		}
		if redirect == nil {
			return nil
		}
		if !redirect.Proxy {
			return redirect
		}
		if attempt > 0 {
			return s.fail(protocolErrf("proxy redirected more than once"))
		}
		s.logAt(LogInfo, "proxy redirect, restarting handshake", "url", redirect.URL)
	}
}

// parseVerdict interprets the server's reply to the credentials line. An
// empty message (or bare prompt) is acceptance.
func (s *Session) parseVerdict(msg string) (*Redirect, error) {
	for _, line := range strings.Split(msg, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case markPrompt:
			continue
		case markError:
			return nil, &Error{Kind: KindAuth, Message: strings.TrimSpace(line[1:])}
		case markRedirect:
			r, err := parseRedirect(line[1:])
			if err != nil {
				return nil, s.fail(err)
			}
			return r, nil
		case markInfo:
			s.logAt(LogInfo, "server message", "text", line[1:])
		default:
			return nil, s.fail(protocolErrf("unexpected handshake line %q", line))
		}
	}
	return nil, nil
}

// Execute runs one statement in the session's language and returns the
// primary response. Running a statement invalidates every earlier
// TableResult of this session.
func (s *Session) Execute(ctx context.Context, statement string) (Response, error) {
	return s.exchange(ctx, ExchangeQuery, s.language.queryTemplate(statement), nil, true)
}

// Command runs one protocol-level command (the 'X' channel). Commands share
// the statement channel on the server, so they too invalidate earlier
// results.
func (s *Session) Command(ctx context.Context, command string) (Response, error) {
	return s.exchange(ctx, ExchangeCommand, s.language.commandTemplate(command), nil, true)
}

// SetReplySize changes the number of rows the server ships per result
// window. It affects results created afterwards; cached windows keep their
// size.
func (s *Session) SetReplySize(ctx context.Context, rows int) error {
	if rows <= 0 {
		return fmt.Errorf("mapi: reply size %d out of range", rows)
	}
	_, err := s.exchange(ctx, ExchangeCommand,
		s.language.commandTemplate(fmt.Sprintf("reply_size %d", rows)), nil, false)
	if err != nil {
		return err
	}
	s.replySize = rows
	return nil
}

// SetAutoCommit switches the server's auto-commit mode.
func (s *Session) SetAutoCommit(ctx context.Context, on bool) error {
	flag := 0
	if on {
		flag = 1
	}
	_, err := s.exchange(ctx, ExchangeCommand,
		s.language.commandTemplate(fmt.Sprintf("auto_commit %d", flag)), nil, false)
	if err != nil {
		return err
	}
	s.autoCommit = on
	return nil
}

// AutoCommit reports the session's auto-commit mode as last communicated by
// either side.
func (s *Session) AutoCommit() bool { return s.autoCommit }

// ReplySize returns the current result window size.
func (s *Session) ReplySize() int { return s.replySize }

// Broken reports whether a transport or protocol failure has poisoned the
// session. A broken session must be closed and reconnected.
func (s *Session) Broken() bool { return s.broken }

// ID returns the engine-assigned session identifier.
func (s *Session) ID() string { return s.id.String() }

// Close releases the transport. It does not attempt a protocol goodbye; the
// server cleans up on disconnect.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.broken = true
	s.logAt(LogInfo, "session closed")
	return s.conn.Close()
}

// exchange sends one logical message and dispatches the reply. bump marks
// exchanges that invalidate earlier results. fetch, when non-nil, carries
// the expectations of a continuation-block request.
func (s *Session) exchange(ctx context.Context, kind, payload string, fetch *fetchRequest, bump bool) (Response, error) {
	if s.closed {
		return nil, transportErrf(nil, "session is closed")
	}
	if s.broken {
		return nil, transportErrf(nil, "session is broken")
	}
	if err := ctx.Err(); err != nil {
		return nil, transportErrf(err, "exchange aborted: %v", err)
	}

	info := ExchangeInfo{
		SessionID: s.id.String(),
		Database:  s.cfg.Database,
		Kind:      kind,
		Statement: payload,
	}
	stats := &ExchangeStatistics{}
	var token HookToken
	if s.hook != nil {
		token = s.hook.OnExchangeStart(info)
	}
	resp, err := s.doExchange(ctx, payload, fetch, bump, stats)
	if s.hook != nil {
		s.hook.OnExchangeEnd(token, info, stats, err)
	}
	s.logAt(LogDebug, "exchange done",
		"kind", kind,
		"bytes_sent", stats.BytesSent,
		"bytes_received", stats.BytesReceived,
		"rows", stats.RowsDecoded,
		"err", err)
	return resp, err
}

func (s *Session) doExchange(ctx context.Context, payload string, fetch *fetchRequest, bump bool, stats *ExchangeStatistics) (Response, error) {
	s.logAt(LogTrace, "sending", "payload", payload)
	stop := s.watchContext(ctx)
	defer stop()

	if err := s.framer.Send([]byte(payload)); err != nil {
		return nil, s.fail(err)
	}
	stats.RecordSend(int64(len(payload)))

	if bump {
		s.gen++
	}
	d := &dispatcher{
		gen:   s.gen,
		fetch: fetch,
		onAutoCommit: func(on bool) {
			s.autoCommit = on
		},
		onInfo: func(msg string) {
			s.logAt(LogInfo, "server message", "text", msg)
		},
	}

	s.armReadDeadline()
	scanner := bufio.NewScanner(s.framer.Stream())
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Text()
		isRow := line != "" && line[0] == markTuple
		stats.RecordLine(int64(len(line))+1, isRow)
		if err := d.line(line); err != nil {
			// Classification and builder failures mean the stream can no
			// longer be trusted.
			return nil, s.fail(err)
		}
	}
	if err := scanner.Err(); err != nil {
		if _, ok := err.(*Error); !ok {
			err = transportErrf(err, "reading response: %v", err)
		}
		return nil, s.fail(err)
	}

	resp, err := d.finish()
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindServer {
			// The statement failed; the session did not.
			return nil, err
		}
		return nil, s.fail(err)
	}
	return resp, nil
}

// fail poisons the session for fatal error kinds and passes the error
// through.
func (s *Session) fail(err error) error {
	var e *Error
	if errors.As(err, &e) && (e.Kind == KindTransport || e.Kind == KindProtocol) {
		if !s.broken {
			s.broken = true
			s.logAt(LogError, "session broken", "err", err)
		}
	}
	return err
}

// armReadDeadline bounds the next read on transports that support it.
func (s *Session) armReadDeadline() {
	dc, ok := s.conn.(deadlineConn)
	if !ok {
		return
	}
	if s.cfg.ReadTimeout <= 0 {
		dc.SetReadDeadline(time.Time{})
		return
	}
	dc.SetReadDeadline(s.clock.Now().Add(s.cfg.ReadTimeout))
}

// watchContext aborts the in-flight transport operation when ctx is
// cancelled, by expiring the read deadline. The returned stop function must
// be called once the operation completes.
func (s *Session) watchContext(ctx context.Context) (stop func()) {
	dc, ok := s.conn.(deadlineConn)
	if !ok || ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			dc.SetReadDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (s *Session) logAt(level LogLevel, msg string, args ...any) {
	if logLevelPriority(level) > s.traceLevel {
		return
	}
	s.log.Log(context.Background(), slogLevel(level), msg, args...)
}
