// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Dial establishes a transport to addr and runs the handshake. Addresses
// containing a path separator are dialed as unix sockets, anything else as
// TCP host:port.
//
// A host redirect verdict is followed once: the original connection is
// closed and the handshake restarted against the redirect target. A second
// redirect fails.
func Dial(ctx context.Context, addr string, cfg Config) (*Session, error) {
	return dial(ctx, addr, cfg, true)
}

func dial(ctx context.Context, addr string, cfg Config, followRedirect bool) (*Session, error) {
	network := "tcp"
	if strings.ContainsRune(addr, '/') {
		network = "unix"
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, transportErrf(err, "dialing %s %s: %v", network, addr, err)
	}

	sess, err := Connect(ctx, conn, cfg)
	if err == nil {
		return sess, nil
	}
	conn.Close()

	var redirect *Redirect
	if followRedirect && errors.As(err, &redirect) {
		if redirect.Database != "" {
			cfg.Database = redirect.Database
		}
		return dial(ctx, redirect.Addr, cfg, false)
	}
	return nil, err
}
