// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapitest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsCorrectDigest(t *testing.T) {
	s := NewServer("monetdb", "secret")
	prehash, err := hexSum("SHA512", "secret")
	require.NoError(t, err)
	digest, err := hexSum("SHA512", prehash+s.Salt)
	require.NoError(t, err)

	reply := fmt.Sprintf("LIT:monetdb:{SHA512}%s:sql:testdb:", digest)
	assert.Empty(t, s.verify(reply))

	bad := fmt.Sprintf("LIT:monetdb:{SHA512}%s:sql:testdb:", strings.Repeat("0", len(digest)))
	assert.NotEmpty(t, s.verify(bad))
	assert.NotEmpty(t, s.verify("LIT:other:{SHA512}"+digest+":sql:testdb:"))
	assert.NotEmpty(t, s.verify("garbage"))
}

func TestRenderTable(t *testing.T) {
	tbl := &Table{
		ID: 2,
		Columns: []Column{
			{Name: "id", Table: "t", Type: "int", Digits: 32},
			{Name: "name", Table: "t", Type: "varchar", Digits: 24},
		},
		Rows: [][]string{
			{"1", `"alpha"`},
			{"2", `"beta"`},
			{"3", `"gamma"`},
		},
	}
	var b strings.Builder
	renderTable(&b, tbl, 2)
	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "&1 2 3 2 2", lines[0])
	assert.Equal(t, "% t,\tt # table_name", lines[1])
	assert.Equal(t, "% id,\tname # name", lines[2])
	assert.Equal(t, "% int,\tvarchar # type", lines[3])
	assert.Equal(t, "% 32,\t24 # length", lines[4])
	assert.Equal(t, "% 32 0,\t24 0 # typesizes", lines[5])
	assert.Equal(t, "[ 1,\t\"alpha\"\t]", lines[6])
	assert.Equal(t, "[ 2,\t\"beta\"\t]", lines[7])
}

func TestRenderWindow(t *testing.T) {
	tbl := &Table{
		ID:      2,
		Columns: []Column{{Name: "id", Table: "t", Type: "int", Digits: 32}},
		Rows:    [][]string{{"1"}, {"2"}, {"3"}, {"4"}},
	}
	var b strings.Builder
	renderWindow(&b, tbl, 2, 2)
	assert.Equal(t, "&6 2 1 2 2\n[ 3\t]\n[ 4\t]\n", b.String())

	b.Reset()
	renderWindow(&b, tbl, 3, 5)
	assert.True(t, strings.HasPrefix(b.String(), "!"))
}
