// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapitest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/Etanimod/monetdb-go/mapi"
)

// Column describes one column of a fixture table in wire terms.
type Column struct {
	Name   string
	Table  string
	Type   string // server type name, e.g. "int", "varchar"
	Digits int
	Scale  int
}

// Table is a tabular fixture. Rows hold raw wire tokens, exactly as they
// would appear between the brackets of a tuple line ("42", `"text"`,
// "NULL").
type Table struct {
	ID      int
	Columns []Column
	Rows    [][]string
}

// Result scripts the outcome of one statement. Exactly one field should be
// set; the zero value answers with a bare prompt.
type Result struct {
	// Table answers with a windowed tabular result.
	Table *Table
	// Update answers with an affected-rows header.
	Update bool
	Affected, LastID int64
	// Schema answers with a schema-change header.
	Schema bool
	// AutoCommit answers with a transaction state header.
	AutoCommit *bool
	// Err answers with a server error line, e.g. "42000!syntax error".
	Err string
	// Info lines are sent before the main answer.
	Info []string
	// Raw is sent verbatim instead of any rendered answer.
	Raw string
	// Hang withholds the reply; the client sees a stalled read until it
	// gives up and closes the transport.
	Hang bool
	// Drop closes the connection without replying.
	Drop bool
}

// serve-loop actions selected by a scripted Result.
const (
	actReply = iota
	actStall
	actDrop
)

// Server is a scripted MAPI server. Configure it, register fixtures with
// AddQuery, then run Serve over a transport. All exported fields must be
// set before the first Serve call.
type Server struct {
	User     string
	Password string
	Database string
	// Salt is the challenge salt. Defaults to a fixed test salt.
	Salt string
	// Algos is the advertised digest algorithm list. Defaults to
	// "RIPEMD160,SHA512,SHA384,SHA256,SHA224,SHA1".
	Algos string
	// PasswordAlgo is the algorithm the client must pre-hash the password
	// with. Defaults to SHA512.
	PasswordAlgo string
	// ProxyHops inserts that many proxy redirect verdicts before accepting
	// the handshake.
	ProxyHops int
	// RedirectTo, when set, answers the first handshake with a host
	// redirect verdict to this mapi URL.
	RedirectTo string

	mu        sync.Mutex
	queries   map[string]Result
	tables    map[int]*Table
	replySize int
	exports   []string
	closes    []int
	autoOn    bool
}

// NewServer returns a server accepting the given credentials.
func NewServer(user, password string) *Server {
	return &Server{
		User:         user,
		Password:     password,
		Database:     "testdb",
		Salt:         "mapitestsalt4567",
		Algos:        "RIPEMD160,SHA512,SHA384,SHA256,SHA224,SHA1",
		PasswordAlgo: "SHA512",
		queries:      make(map[string]Result),
		tables:       make(map[int]*Table),
		replySize:    100,
		autoOn:       true,
	}
}

// AddQuery scripts the outcome of one exact statement text.
func (s *Server) AddQuery(statement string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[statement] = r
	if r.Table != nil {
		s.tables[r.Table.ID] = r.Table
	}
}

// Exports returns the raw export commands received, in order.
func (s *Server) Exports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.exports...)
}

// Closes returns the result ids the client asked to close, in order.
func (s *Server) Closes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.closes...)
}

// ReplySize returns the window size last requested by the client.
func (s *Server) ReplySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replySize
}

// AutoCommitMode returns the auto-commit flag last requested by the client.
func (s *Server) AutoCommitMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoOn
}

// Serve runs one session over the transport until the client disconnects.
func (s *Server) Serve(conn io.ReadWriteCloser) error {
	defer conn.Close()
	f := mapi.NewFramer(conn, 0)
	if err := s.handshake(f); err != nil {
		return err
	}
	for {
		msg, err := f.Receive()
		if err != nil {
			return err
		}
		reply, action, err := s.dispatch(string(msg))
		if err != nil {
			return err
		}
		switch action {
		case actDrop:
			return nil
		case actStall:
			continue
		}
		if err := f.Send([]byte(reply)); err != nil {
			return err
		}
	}
}

// Listen accepts connections and serves each on its own goroutine until the
// listener closes.
func (s *Server) Listen(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.Serve(conn)
	}
}

func (s *Server) handshake(f *mapi.Framer) error {
	for hop := 0; ; hop++ {
		challenge := fmt.Sprintf("%s:mapitest:9:%s:LIT:%s:", s.Salt, s.Algos, s.PasswordAlgo)
		if err := f.Send([]byte(challenge)); err != nil {
			return err
		}
		reply, err := f.Receive()
		if err != nil {
			return err
		}
		verdict := s.verify(string(reply))
		if verdict != "" {
			return f.Send([]byte(verdict))
		}
		if s.RedirectTo != "" && hop == 0 {
			return f.Send([]byte("^" + s.RedirectTo + "\n"))
		}
		if hop < s.ProxyHops {
			if err := f.Send([]byte("^mapi:merovingian://proxy\n")); err != nil {
				return err
			}
			continue
		}
		return f.Send(nil)
	}
}

// verify checks a credentials line and returns a non-empty error verdict on
// rejection.
func (s *Server) verify(reply string) string {
	fields := strings.Split(strings.TrimRight(reply, "\n"), ":")
	if len(fields) < 5 {
		return "!InvalidCredentialsException:malformed credentials\n"
	}
	user, auth := fields[1], fields[2]
	if user != s.User {
		return "!InvalidCredentialsException:invalid credentials for user '" + user + "'\n"
	}
	algo, digest, ok := cutAuth(auth)
	if !ok {
		return "!InvalidCredentialsException:malformed digest\n"
	}
	prehash, err := hexSum(s.PasswordAlgo, s.Password)
	if err != nil {
		return "!InvalidCredentialsException:" + err.Error() + "\n"
	}
	want, err := hexSum(algo, prehash+s.Salt)
	if err != nil {
		return "!InvalidCredentialsException:" + err.Error() + "\n"
	}
	if digest != want {
		return "!InvalidCredentialsException:invalid credentials for user '" + user + "'\n"
	}
	return ""
}

// cutAuth splits "{ALGO}hexdigest".
func cutAuth(auth string) (algo, digest string, ok bool) {
	if !strings.HasPrefix(auth, "{") {
		return "", "", false
	}
	algo, digest, ok = strings.Cut(auth[1:], "}")
	return algo, digest, ok
}

func hexSum(algo, data string) (string, error) {
	var h hash.Hash
	switch algo {
	case "SHA512":
		h = sha512.New()
	case "SHA384":
		h = sha512.New384()
	case "SHA256":
		h = sha256.New()
	case "SHA224":
		h = sha256.New224()
	case "SHA1":
		h = sha1.New()
	case "MD5":
		h = md5.New()
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// dispatch produces the reply for one client message.
func (s *Server) dispatch(msg string) (reply string, action int, err error) {
	switch {
	case strings.HasPrefix(msg, "s"):
		stmt := strings.TrimSuffix(strings.TrimPrefix(msg, "s"), "\n;\n")
		return s.answer(stmt)
	case strings.HasPrefix(msg, "X"):
		return s.command(strings.TrimSuffix(strings.TrimPrefix(msg, "X"), "\n"))
	default:
		return "", actReply, fmt.Errorf("mapitest: unrecognized message %q", msg)
	}
}

func (s *Server) answer(stmt string) (string, int, error) {
	s.mu.Lock()
	r, ok := s.queries[stmt]
	window := s.replySize
	s.mu.Unlock()
	if !ok {
		return fmt.Sprintf("!42000!unknown statement %q\n", stmt), actReply, nil
	}
	if r.Hang {
		return "", actStall, nil
	}
	if r.Drop {
		return "", actDrop, nil
	}
	if r.Raw != "" {
		return r.Raw, actReply, nil
	}

	var b strings.Builder
	for _, info := range r.Info {
		fmt.Fprintf(&b, "#%s\n", info)
	}
	switch {
	case r.Err != "":
		fmt.Fprintf(&b, "!%s\n", r.Err)
	case r.Table != nil:
		renderTable(&b, r.Table, window)
	case r.Update:
		fmt.Fprintf(&b, "&2 %d %d\n", r.Affected, r.LastID)
	case r.Schema:
		b.WriteString("&3\n")
	case r.AutoCommit != nil:
		flag := "f"
		if *r.AutoCommit {
			flag = "t"
		}
		fmt.Fprintf(&b, "&4 %s\n", flag)
	}
	return b.String(), actReply, nil
}

func (s *Server) command(cmd string) (string, int, error) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", actReply, fmt.Errorf("mapitest: empty command")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch fields[0] {
	case "reply_size":
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return "", actReply, err
		}
		s.replySize = n
		return "", actReply, nil
	case "auto_commit":
		s.autoOn = fields[1] == "1"
		return "", actReply, nil
	case "export":
		s.exports = append(s.exports, cmd)
		if len(fields) != 4 {
			return "!42000!malformed export\n", actReply, nil
		}
		id, _ := strconv.Atoi(fields[1])
		offset, _ := strconv.Atoi(fields[2])
		count, _ := strconv.Atoi(fields[3])
		t, ok := s.tables[id]
		if !ok {
			return fmt.Sprintf("!42000!no such result %d\n", id), actReply, nil
		}
		var b strings.Builder
		renderWindow(&b, t, offset, count)
		return b.String(), actReply, nil
	case "close":
		id, _ := strconv.Atoi(fields[1])
		s.closes = append(s.closes, id)
		return "", actReply, nil
	default:
		return fmt.Sprintf("!42000!unknown command %q\n", cmd), actReply, nil
	}
}

// renderTable writes the '&1' header, column metadata and the first row
// window.
func renderTable(b *strings.Builder, t *Table, window int) {
	first := len(t.Rows)
	if window < first {
		first = window
	}
	fmt.Fprintf(b, "&1 %d %d %d %d\n", t.ID, len(t.Rows), len(t.Columns), first)

	meta := func(tag string, value func(Column) string) {
		parts := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			parts[i] = value(c)
		}
		fmt.Fprintf(b, "%% %s # %s\n", strings.Join(parts, ",\t"), tag)
	}
	meta("table_name", func(c Column) string { return c.Table })
	meta("name", func(c Column) string { return c.Name })
	meta("type", func(c Column) string { return c.Type })
	meta("length", func(c Column) string { return strconv.Itoa(c.Digits) })
	meta("typesizes", func(c Column) string {
		return fmt.Sprintf("%d %d", c.Digits, c.Scale)
	})

	for _, row := range t.Rows[:first] {
		renderTuple(b, row)
	}
}

// renderWindow writes a '&6' continuation block.
func renderWindow(b *strings.Builder, t *Table, offset, count int) {
	if offset < 0 || offset+count > len(t.Rows) {
		fmt.Fprintf(b, "!42000!window [%d,%d) out of range\n", offset, offset+count)
		return
	}
	fmt.Fprintf(b, "&6 %d %d %d %d\n", t.ID, len(t.Columns), count, offset)
	for _, row := range t.Rows[offset : offset+count] {
		renderTuple(b, row)
	}
}

func renderTuple(b *strings.Builder, tokens []string) {
	fmt.Fprintf(b, "[ %s\t]\n", strings.Join(tokens, ",\t"))
}
