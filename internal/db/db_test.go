package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regulation-rag/internal/config"
	"regulation-rag/internal/vectordb"
)

// formatter-only handle; nothing here opens a connection
func newTestDB(t *testing.T) *PostgresIndex {
	t.Helper()
	sqldb, err := ConnectDB(&config.DatabaseConfig{Driver: config.DriverPgdriver, DSN: "postgres://u:p@localhost:5432/rag?sslmode=disable"})
	require.NoError(t, err)
	idx := NewPostgresIndex(NewDB(sqldb, false))
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestColumnDefinition(t *testing.T) {
	schema := vectordb.RecordSchema("", "context", "vector_context", 1536)
	want := []string{
		`"id" BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY`,
		`"source" VARCHAR(255)`,
		`"header" VARCHAR(512)`,
		`"context" VARCHAR(65535)`,
		`"vector_context" vector(1536)`,
	}
	for i, f := range schema.Fields {
		got, err := columnDefinition(f)
		require.NoError(t, err)
		assert.Equal(t, want[i], got)
	}

	_, err := columnDefinition(vectordb.Field{Name: "v", Type: vectordb.FieldFloatVector})
	assert.Error(t, err)
	_, err = columnDefinition(vectordb.Field{Name: "b", Type: "bool"})
	assert.Error(t, err)
}

func TestParseColumnType(t *testing.T) {
	tests := []struct {
		typ  string
		want vectordb.Field
		ok   bool
	}{
		{"bigint", vectordb.Field{Name: "c", Type: vectordb.FieldInt64}, true},
		{"character varying(255)", vectordb.Field{Name: "c", Type: vectordb.FieldVarchar, MaxLength: 255}, true},
		{"text", vectordb.Field{Name: "c", Type: vectordb.FieldVarchar}, true},
		{"vector(1536)", vectordb.Field{Name: "c", Type: vectordb.FieldFloatVector, Dim: 1536}, true},
		{"jsonb", vectordb.Field{Name: "c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, ok := parseColumnType("c", tt.typ)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDistanceOperator(t *testing.T) {
	op, score, err := distanceOperator(vectordb.MetricIP)
	require.NoError(t, err)
	assert.Equal(t, "<#>", op)
	assert.InDelta(t, 0.8, score(-0.8), 1e-6)

	op, score, err = distanceOperator(vectordb.MetricCosine)
	require.NoError(t, err)
	assert.Equal(t, "<=>", op)
	assert.InDelta(t, 0.75, score(0.25), 1e-6)

	op, score, err = distanceOperator(vectordb.MetricL2)
	require.NoError(t, err)
	assert.Equal(t, "<->", op)
	assert.Greater(t, score(0.1), score(0.2))

	_, _, err = distanceOperator("HAMMING")
	assert.ErrorIs(t, err, vectordb.ErrUnsupportedMetric)

	ops, err := operatorClass(vectordb.MetricIP)
	require.NoError(t, err)
	assert.Equal(t, "vector_ip_ops", ops)
}

func TestInsertQuery(t *testing.T) {
	idx := newTestDB(t)
	cols := []vectordb.Column{
		vectordb.StringColumn("source", []string{"a.pdf", "b'c.pdf"}),
		vectordb.VectorColumn("vector_context", [][]float32{{1, 0.5}, {0, -1}}),
	}

	query, args := insertQuery("rules_qa", cols, 2)
	got := idx.db.Formatter().FormatQuery(query, args...)

	assert.Equal(t,
		`INSERT INTO "rules_qa" ("source", "vector_context") VALUES ('a.pdf', '[1,0.5]'::vector), ('b''c.pdf', '[0,-1]'::vector)`,
		got)
}

func TestSearchQuery(t *testing.T) {
	idx := newTestDB(t)
	req := vectordb.SearchRequest{
		Vector:       []float32{0.25, 1},
		VectorField:  "vector_context",
		TopK:         3,
		OutputFields: []string{"context", "source"},
	}

	query, args := searchQuery("rules_qa", req, "<#>")
	got := idx.db.Formatter().FormatQuery(query, args...)

	assert.Equal(t,
		`SELECT "id"::text, COALESCE("context"::text, ''), COALESCE("source"::text, ''), "vector_context" <#> '[0.25,1]'::vector AS distance FROM "rules_qa" ORDER BY distance LIMIT 3`,
		got)
}

func TestIntParam(t *testing.T) {
	params := map[string]any{"nprobe": 10, "nlist": float64(128), "name": "x"}

	n, ok := intParam(params, "nprobe")
	assert.True(t, ok)
	assert.Equal(t, 10, n)

	n, ok = intParam(params, "nlist")
	assert.True(t, ok)
	assert.Equal(t, 128, n)

	_, ok = intParam(params, "name")
	assert.False(t, ok)
	_, ok = intParam(nil, "ef")
	assert.False(t, ok)
}
