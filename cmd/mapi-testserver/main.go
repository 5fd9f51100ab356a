// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

// Command mapi-testserver runs a scripted MAPI server for out-of-process
// client testing. It listens on an ephemeral TCP port (or a unix socket
// with --unix PATH), prints the address on stdout, and serves a small set
// of canned fixtures until terminated.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Etanimod/monetdb-go/mapitest"
)

func fixtures(server *mapitest.Server) {
	rows := make([][]string, 1000)
	for i := range rows {
		rows[i] = []string{strconv.Itoa(i), fmt.Sprintf("%q", fmt.Sprintf("row-%d", i))}
	}
	server.AddQuery("SELECT i, s FROM big", mapitest.Result{Table: &mapitest.Table{
		ID: 1,
		Columns: []mapitest.Column{
			{Name: "i", Table: "big", Type: "int", Digits: 32},
			{Name: "s", Table: "big", Type: "varchar", Digits: 16},
		},
		Rows: rows,
	}})
	server.AddQuery("UPDATE big SET s = s", mapitest.Result{Update: true, Affected: 1000, LastID: -1})
	server.AddQuery("CREATE TABLE t (i INT)", mapitest.Result{Schema: true})
	server.AddQuery("SELECT error", mapitest.Result{Err: "42000!scripted failure"})
}

func main() {
	server := mapitest.NewServer("monetdb", "monetdb")
	fixtures(server)

	var listener net.Listener
	var err error
	if len(os.Args) > 2 && os.Args[1] == "--unix" {
		path := os.Args[2]
		os.Remove(path)
		listener, err = net.Listen("unix", path)
		if err == nil {
			fmt.Printf("UNIX:%s\n", path)
		}
	} else {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err == nil {
			fmt.Printf("PORT:%d\n", listener.Addr().(*net.TCPAddr).Port)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Sync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		listener.Close()
	}()

	server.Listen(listener)
}
