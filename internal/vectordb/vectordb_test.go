package vectordb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressIndex struct {
	Index
	steps []Progress
	calls int
	err   error
}

func (p *progressIndex) IndexBuildProgress(context.Context, string) (Progress, error) {
	if p.err != nil {
		return Progress{}, p.err
	}
	i := min(p.calls, len(p.steps)-1)
	p.calls++
	return p.steps[i], nil
}

func TestRecordSchema(t *testing.T) {
	s := RecordSchema("rules", "context", "vector_context", 1536)

	assert.Equal(t, []string{"id", "source", "header", "context", "vector_context"}, s.FieldNames())
	f, ok := s.Field("vector_context")
	require.True(t, ok)
	assert.Equal(t, FieldFloatVector, f.Type)
	assert.Equal(t, 1536, f.Dim)
	assert.True(t, s.Has("id"))
	assert.False(t, s.Has("vector"))
}

func TestValidateColumns(t *testing.T) {
	s := RecordSchema("", "context", "vec", 2)
	good := []Column{
		StringColumn("source", []string{"a.pdf", "b.pdf"}),
		StringColumn("header", []string{"a.pdf - Parça 1", "b.pdf - Parça 1"}),
		StringColumn("context", []string{"x", "y"}),
		VectorColumn("vec", [][]float32{{1, 0}, {0, 1}}),
	}

	rows, err := ValidateColumns(s, good)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	tests := []struct {
		name string
		cols []Column
		want error
	}{
		{"unknown field", append([]Column{StringColumn("page", []string{"1", "2"})}, good...), ErrFieldNotFound},
		{"auto id supplied", append([]Column{StringColumn("id", []string{"1", "2"})}, good...), ErrColumnMismatch},
		{"missing column", good[1:], ErrColumnMismatch},
		{"ragged", []Column{
			StringColumn("source", []string{"a.pdf"}),
			StringColumn("header", []string{"h", "h"}),
			StringColumn("context", []string{"x", "y"}),
			VectorColumn("vec", [][]float32{{1, 0}, {0, 1}}),
		}, ErrColumnMismatch},
		{"wrong dimension", []Column{
			StringColumn("source", []string{"a.pdf"}),
			StringColumn("header", []string{"h"}),
			StringColumn("context", []string{"x"}),
			VectorColumn("vec", [][]float32{{1, 0, 0}}),
		}, ErrColumnMismatch},
		{"vector as strings", []Column{
			StringColumn("source", []string{"a.pdf"}),
			StringColumn("header", []string{"h"}),
			StringColumn("context", []string{"x"}),
			StringColumn("vec", []string{"1,0"}),
		}, ErrColumnMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateColumns(s, tt.cols)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWaitForIndex_CompletesAfterPolling(t *testing.T) {
	idx := &progressIndex{steps: []Progress{{0, 10}, {5, 10}, {10, 10}}}

	err := WaitForIndex(context.Background(), idx, "rules_qa", time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.calls)
}

func TestWaitForIndex_EmptyCollectionIsDone(t *testing.T) {
	idx := &progressIndex{steps: []Progress{{0, 0}}}

	require.NoError(t, WaitForIndex(context.Background(), idx, "rules_qa", time.Millisecond, time.Second))
	assert.Equal(t, 1, idx.calls)
}

func TestWaitForIndex_Timeout(t *testing.T) {
	idx := &progressIndex{steps: []Progress{{1, 10}}}

	err := WaitForIndex(context.Background(), idx, "rules_qa", time.Millisecond, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrIndexTimeout)
	assert.Greater(t, idx.calls, 1)
}

func TestWaitForIndex_ProgressError(t *testing.T) {
	boom := errors.New("unavailable")
	idx := &progressIndex{err: boom}

	err := WaitForIndex(context.Background(), idx, "rules_qa", time.Millisecond, time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestWaitForIndex_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx := &progressIndex{steps: []Progress{{1, 10}}}

	err := WaitForIndex(ctx, idx, "rules_qa", time.Millisecond, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
