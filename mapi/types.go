// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
)

// TypeKind is the generic value kind a server type decodes into. It selects
// both the decode routine and the null convention of a column.
type TypeKind int

const (
	TypeBool TypeKind = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeDecimal
	TypeText
	TypeBlob
	TypeDate
	TypeTime
	TypeTimeTz
	TypeTimestamp
	TypeTimestampTz
	TypeUUID
)

// Null sentinels for fixed-width numeric columns. Numeric columns are stored
// as dense typed slices without a validity mask; the minimum representable
// value marks NULL. A genuine minimum-value row is therefore misread as
// NULL — a deliberate trade of boundary correctness for decode speed on hot
// numeric paths.
const (
	NullInt8  int8  = math.MinInt8
	NullInt16 int16 = math.MinInt16
	NullInt32 int32 = math.MinInt32
	NullInt64 int64 = math.MinInt64
)

var (
	NullFloat32 float32 = -math.MaxFloat32
	NullFloat64 float64 = -math.MaxFloat64
)

// ColumnDescriptor describes one column of a table result, parsed from the
// '%' metadata lines. Immutable after header parsing.
type ColumnDescriptor struct {
	Name      string
	TableName string
	TypeName  string // server-declared type, e.g. "varchar", "decimal"
	Digits    int    // precision for numeric/temporal types, length for text
	Scale     int
	Kind      TypeKind
	// BestEffort marks a column whose server type is unknown to this client
	// and is surfaced as raw text instead of failing the result.
	BestEffort bool
}

// mapType resolves a server type name plus digits/scale to a value kind.
// Unknown names fall back to raw text with the best-effort flag set.
func mapType(typeName string, digits, scale int) (kind TypeKind, bestEffort bool) {
	switch strings.ToLower(typeName) {
	case "boolean", "bool":
		return TypeBool, false
	case "tinyint":
		return TypeInt8, false
	case "smallint":
		return TypeInt16, false
	case "int", "integer", "month_interval":
		return TypeInt32, false
	case "bigint", "sec_interval", "day_interval", "oid", "wrd":
		return TypeInt64, false
	case "real":
		return TypeFloat32, false
	case "double", "float":
		return TypeFloat64, false
	case "decimal", "numeric", "hugeint":
		return TypeDecimal, false
	case "char", "varchar", "clob", "str", "json", "url", "inet":
		return TypeText, false
	case "blob":
		return TypeBlob, false
	case "date":
		return TypeDate, false
	case "time":
		return TypeTime, false
	case "timetz":
		return TypeTimeTz, false
	case "timestamp":
		return TypeTimestamp, false
	case "timestamptz":
		return TypeTimestampTz, false
	case "uuid":
		return TypeUUID, false
	default:
		return TypeText, true
	}
}

// tokenizeTuple splits a '[' data line into raw value tokens. Values are
// separated by commas at the top level; quoted strings may contain commas,
// brackets and escaped quotes.
func tokenizeTuple(line string) ([]string, error) {
	body, ok := strings.CutPrefix(line, "[")
	if !ok {
		return nil, protocolErrf("tuple line does not start with '[': %q", line)
	}
	body, ok = strings.CutSuffix(strings.TrimRight(body, " \t"), "]")
	if !ok {
		return nil, protocolErrf("tuple line does not end with ']': %q", line)
	}

	var tokens []string
	start := 0
	inString := false
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\\':
			if inString {
				i++ // skip escaped byte
			}
		case '"':
			inString = !inString
		case ',':
			if !inString {
				tokens = append(tokens, strings.Trim(body[start:i], " \t"))
				start = i + 1
			}
		}
	}
	if inString {
		return nil, protocolErrf("unterminated string in tuple line: %q", line)
	}
	tokens = append(tokens, strings.Trim(body[start:], " \t"))
	return tokens, nil
}

// unquoteString undoes the server's string quoting: surrounding double
// quotes with backslash escapes for quotes, backslashes, control characters
// and \ooo octal bytes.
func unquoteString(token string) (string, error) {
	if len(token) < 2 || token[0] != '"' || token[len(token)-1] != '"' {
		return "", protocolErrf("malformed string token %q", token)
	}
	body := token[1 : len(token)-1]
	if !strings.ContainsRune(body, '\\') {
		return body, nil
	}
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", protocolErrf("dangling escape in string token %q", token)
		}
		switch e := body[i]; e {
		case '\\', '"', '\'':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case '0', '1', '2', '3':
			if i+2 >= len(body) {
				return "", protocolErrf("truncated octal escape in %q", token)
			}
			v, err := strconv.ParseUint(body[i:i+3], 8, 8)
			if err != nil {
				return "", protocolErrf("bad octal escape in %q: %v", token, err)
			}
			b.WriteByte(byte(v))
			i += 2
		default:
			return "", protocolErrf("unknown escape \\%c in %q", e, token)
		}
	}
	return b.String(), nil
}

// quoteString is the inverse of unquoteString, used when composing tuple
// text (test servers, fixtures).
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Temporal wire layouts. Fractional seconds and zone offsets are optional
// on the wire; parse attempts run most-specific first.
var (
	dateLayouts        = []string{"2006-01-02"}
	timeLayouts        = []string{"15:04:05.999999", "15:04:05"}
	timeTzLayouts      = []string{"15:04:05.999999-07:00", "15:04:05-07:00"}
	timestampLayouts   = []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"}
	timestampTzLayouts = []string{"2006-01-02 15:04:05.999999-07:00", "2006-01-02 15:04:05-07:00"}
)

func parseTemporal(kind TypeKind, s string) (time.Time, error) {
	var layouts []string
	switch kind {
	case TypeDate:
		layouts = dateLayouts
	case TypeTime:
		layouts = timeLayouts
	case TypeTimeTz:
		layouts = timeTzLayouts
	case TypeTimestamp:
		layouts = timestampLayouts
	case TypeTimestampTz:
		layouts = timestampTzLayouts
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, protocolErrf("malformed temporal value %q: %v", s, lastErr)
}

// parseBlob decodes the hex form the server uses for blob columns.
func parseBlob(s string) ([]byte, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, protocolErrf("malformed blob value %q: %v", s, err)
	}
	return data, nil
}
