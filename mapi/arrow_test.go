// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Etanimod/monetdb-go/mapi"
	"github.com/Etanimod/monetdb-go/mapitest"
)

func TestTableResultSchema(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT i, s FROM big", mapitest.Result{Table: bigTable(1, 3)})
	sess := startSession(t, srv, testConfig())

	resp, err := sess.Execute(context.Background(), "SELECT i, s FROM big")
	require.NoError(t, err)
	res := resp.(*mapi.TableResult)

	schema := res.Schema()
	require.Len(t, schema.Fields(), 2)
	assert.Equal(t, "i", schema.Field(0).Name)
	assert.Equal(t, arrow.PrimitiveTypes.Int32, schema.Field(0).Type)
	assert.True(t, schema.Field(0).Nullable)
	assert.Equal(t, arrow.BinaryTypes.String, schema.Field(1).Type)

	typeName, ok := schema.Field(0).Metadata.GetValue("monetdb.type")
	require.True(t, ok)
	assert.Equal(t, "int", typeName)
}

func TestRowBlockRecord(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT i, s FROM t", mapitest.Result{Table: &mapitest.Table{
		ID: 6,
		Columns: []mapitest.Column{
			{Name: "i", Table: "t", Type: "int", Digits: 32},
			{Name: "s", Table: "t", Type: "varchar", Digits: 16},
		},
		Rows: [][]string{
			{"1", `"alpha"`},
			{"NULL", `"beta"`},
			{"3", "NULL"},
		},
	}})
	sess := startSession(t, srv, testConfig())

	resp, err := sess.Execute(context.Background(), "SELECT i, s FROM t")
	require.NoError(t, err)
	res := resp.(*mapi.TableResult)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	rec, err := res.Cached().Record(mem, res.Schema())
	require.NoError(t, err)

	require.EqualValues(t, 3, rec.NumRows())
	require.EqualValues(t, 2, rec.NumCols())

	ints := rec.Column(0).(*array.Int32)
	assert.Equal(t, int32(1), ints.Value(0))
	// The sentinel becomes a proper Arrow null, not a value.
	assert.True(t, ints.IsNull(1))
	assert.Equal(t, int32(3), ints.Value(2))

	strs := rec.Column(1).(*array.String)
	assert.Equal(t, "alpha", strs.Value(0))
	assert.Equal(t, "beta", strs.Value(1))
	assert.True(t, strs.IsNull(2))

	rec.Release()
	mem.AssertSize(t, 0)
}

func TestRowBlockRecordSchemaMismatch(t *testing.T) {
	srv := mapitest.NewServer("monetdb", "monetdb")
	srv.AddQuery("SELECT i, s FROM big", mapitest.Result{Table: bigTable(1, 3)})
	sess := startSession(t, srv, testConfig())

	resp, err := sess.Execute(context.Background(), "SELECT i, s FROM big")
	require.NoError(t, err)
	res := resp.(*mapi.TableResult)

	narrow := arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	}, nil)
	_, err = res.Cached().Record(nil, narrow)
	assert.Error(t, err)
}
