// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Etanimod/monetdb-go/mapi"
	"github.com/Etanimod/monetdb-go/mapitest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() mapi.Config {
	cfg := mapi.DefaultConfig()
	cfg.User = "monetdb"
	cfg.Password = "monetdb"
	cfg.Database = "testdb"
	cfg.ReplySize = 100
	return cfg
}

// startServer runs a scripted server over one end of a pipe and returns the
// client end. Both ends are torn down with the test.
func startServer(t *testing.T, srv *mapitest.Server) net.Conn {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(serverConn)
	}()
	t.Cleanup(func() {
		clientConn.Close()
		<-done
	})
	return clientConn
}

func startSession(t *testing.T, srv *mapitest.Server, cfg mapi.Config) *mapi.Session {
	t.Helper()
	conn := startServer(t, srv)
	sess, err := mapi.Connect(context.Background(), conn, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestConnectHandshake(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	sess := startSession(t, srv, testConfig())

	assert.False(t, sess.Broken())
	assert.True(t, sess.AutoCommit())
	assert.Equal(t, 100, sess.ReplySize())
	// The session pins its window size during connect.
	assert.Equal(t, 100, srv.ReplySize())
}

func TestConnectWrongPassword(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	conn := startServer(t, srv)

	cfg := testConfig()
	cfg.Password = "nope"
	_, err := mapi.Connect(context.Background(), conn, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapi.ErrAuth), "got %v", err)
}

func TestConnectUnknownUser(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	conn := startServer(t, srv)

	cfg := testConfig()
	cfg.User = "intruder"
	_, err := mapi.Connect(context.Background(), conn, cfg)
	assert.True(t, errors.Is(err, mapi.ErrAuth), "got %v", err)
}

func TestConnectNoCommonAlgorithm(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.Algos = "RIPEMD160"
	conn := startServer(t, srv)

	_, err := mapi.Connect(context.Background(), conn, testConfig())
	assert.True(t, errors.Is(err, mapi.ErrAuth), "got %v", err)
}

func TestConnectProxyRedirect(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.ProxyHops = 1
	sess := startSession(t, srv, testConfig())
	assert.False(t, sess.Broken())
}

func TestConnectTooManyProxyRedirects(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.ProxyHops = 2
	conn := startServer(t, srv)

	_, err := mapi.Connect(context.Background(), conn, testConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapi.ErrProtocol), "got %v", err)
}

func TestConnectHostRedirect(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.RedirectTo = "mapi:monetdb://db2.example.com:50001/warehouse"
	conn := startServer(t, srv)

	_, err := mapi.Connect(context.Background(), conn, testConfig())
	require.Error(t, err)
	var redirect *mapi.Redirect
	require.True(t, errors.As(err, &redirect), "got %v", err)
	assert.Equal(t, "db2.example.com:50001", redirect.Addr)
	assert.Equal(t, "warehouse", redirect.Database)
}

func TestDialTCP(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT 1", mapitest.Result{Update: true, Affected: 0, LastID: -1})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Listen(l)
	}()
	t.Cleanup(func() {
		l.Close()
		<-done
	})

	sess, err := mapi.Dial(context.Background(), l.Addr().String(), testConfig())
	require.NoError(t, err)
	_, err = sess.Execute(context.Background(), "SELECT 1")
	assert.NoError(t, err)
	require.NoError(t, sess.Close())
}

func TestExecuteUpdate(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("UPDATE t SET x = 1", mapitest.Result{Update: true, Affected: 17, LastID: -1})
	sess := startSession(t, srv, testConfig())

	resp, err := sess.Execute(context.Background(), "UPDATE t SET x = 1")
	require.NoError(t, err)
	res, ok := resp.(*mapi.UpdateResult)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, int64(17), res.AffectedRows)
	assert.Equal(t, int64(-1), res.LastID)
}

func TestExecuteGeneratedKey(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("INSERT INTO t VALUES (1)", mapitest.Result{Update: true, Affected: 1, LastID: 5005})
	sess := startSession(t, srv, testConfig())

	resp, err := sess.Execute(context.Background(), "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	assert.Equal(t, int64(5005), resp.(*mapi.UpdateResult).LastID)
}

func TestExecuteSchema(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("CREATE TABLE t (i INT)", mapitest.Result{Schema: true})
	sess := startSession(t, srv, testConfig())

	resp, err := sess.Execute(context.Background(), "CREATE TABLE t (i INT)")
	require.NoError(t, err)
	_, ok := resp.(*mapi.SchemaResult)
	assert.True(t, ok, "got %T", resp)
}

func TestExecuteServerErrorKeepsSessionUsable(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT broken", mapitest.Result{Err: "42000!syntax error"})
	srv.AddQuery("SELECT 1", mapitest.Result{Update: true, Affected: 0, LastID: -1})
	sess := startSession(t, srv, testConfig())

	_, err := sess.Execute(context.Background(), "SELECT broken")
	require.Error(t, err)
	var e *mapi.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, mapi.KindServer, e.Kind)
	assert.Equal(t, "42000", e.Code)
	assert.False(t, sess.Broken())

	_, err = sess.Execute(context.Background(), "SELECT 1")
	assert.NoError(t, err)
}

func TestExecuteGarbagePoisonsSession(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT junk", mapitest.Result{Raw: "complete nonsense\n"})
	sess := startSession(t, srv, testConfig())

	_, err := sess.Execute(context.Background(), "SELECT junk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapi.ErrProtocol), "got %v", err)
	assert.True(t, sess.Broken())

	_, err = sess.Execute(context.Background(), "SELECT junk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapi.ErrTransport), "got %v", err)
}

func TestExecuteReadTimeout(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT slow", mapitest.Result{Hang: true})

	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	sess := startSession(t, srv, cfg)

	_, err := sess.Execute(context.Background(), "SELECT slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapi.ErrTransport), "got %v", err)
	assert.True(t, sess.Broken())
}

func TestExecuteContextCancel(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT slow", mapitest.Result{Hang: true})
	sess := startSession(t, srv, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sess.Execute(ctx, "SELECT slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapi.ErrTransport), "got %v", err)
	assert.True(t, sess.Broken())
}

func TestExecuteConnectionDrop(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT gone", mapitest.Result{Drop: true})
	sess := startSession(t, srv, testConfig())

	_, err := sess.Execute(context.Background(), "SELECT gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapi.ErrTransport), "got %v", err)
	assert.True(t, sess.Broken())
}

func TestTransactionStateEcho(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	off := false
	srv.AddQuery("START TRANSACTION", mapitest.Result{AutoCommit: &off})
	sess := startSession(t, srv, testConfig())

	require.True(t, sess.AutoCommit())
	resp, err := sess.Execute(context.Background(), "START TRANSACTION")
	require.NoError(t, err)
	ts, ok := resp.(*mapi.TransactionState)
	require.True(t, ok, "got %T", resp)
	assert.False(t, ts.AutoCommit)
	// The echoed state mutates the session's view.
	assert.False(t, sess.AutoCommit())
}

func TestSetAutoCommit(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	sess := startSession(t, srv, testConfig())

	require.NoError(t, sess.SetAutoCommit(context.Background(), false))
	assert.False(t, sess.AutoCommit())
	assert.False(t, srv.AutoCommitMode())

	require.NoError(t, sess.SetAutoCommit(context.Background(), true))
	assert.True(t, srv.AutoCommitMode())
}

func TestSetReplySize(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	sess := startSession(t, srv, testConfig())

	require.NoError(t, sess.SetReplySize(context.Background(), 40))
	assert.Equal(t, 40, sess.ReplySize())
	assert.Equal(t, 40, srv.ReplySize())

	assert.Error(t, sess.SetReplySize(context.Background(), 0))
}

func TestInfoLinesAreNotResponses(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("UPDATE t SET x = 1", mapitest.Result{
		Update: true, Affected: 3, LastID: -1,
		Info: []string{"optimizer says hi"},
	})
	sess := startSession(t, srv, testConfig())

	resp, err := sess.Execute(context.Background(), "UPDATE t SET x = 1")
	require.NoError(t, err)
	_, ok := resp.(*mapi.UpdateResult)
	assert.True(t, ok, "got %T", resp)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	sess := startSession(t, srv, testConfig())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	_, err := sess.Execute(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

// hookRecorder counts exchanges for hook coverage.
type hookRecorder struct {
	starts, ends int
	kinds        []string
	bytesSent    int64
}

func (h *hookRecorder) OnExchangeStart(info mapi.ExchangeInfo) mapi.HookToken {
	h.starts++
	h.kinds = append(h.kinds, info.Kind)
	return h.starts
}

func (h *hookRecorder) OnExchangeEnd(token mapi.HookToken, info mapi.ExchangeInfo, stats *mapi.ExchangeStatistics, err error) {
	h.ends++
	if stats != nil {
		h.bytesSent += stats.BytesSent
	}
}

func TestExchangeHook(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT 1", mapitest.Result{Update: true, Affected: 0, LastID: -1})

	hook := &hookRecorder{}
	cfg := testConfig()
	cfg.Hook = hook
	sess := startSession(t, srv, cfg)

	_, err := sess.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)

	// handshake + reply_size pin + query
	assert.Equal(t, 3, hook.starts)
	assert.Equal(t, 3, hook.ends)
	assert.Equal(t, []string{mapi.ExchangeHandshake, mapi.ExchangeCommand, mapi.ExchangeQuery}, hook.kinds)
	assert.Greater(t, hook.bytesSent, int64(0))
}
