package helper

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	require.NoError(t, err)
	b, err := GenerateUUID()
	require.NoError(t, err)

	_, err = uuid.Parse(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrint(&buf, map[string]int{"chunks": 2})
	assert.Equal(t, "{\n  \"chunks\": 2\n}\n", buf.String())
}

func TestFileAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing.pdf")))
	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))

	nested := filepath.Join(dir, "x", "y")
	require.NoError(t, CreateFolder(nested))
	assert.True(t, DirExists(nested))
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 350 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 350*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 350*time.Millisecond, p.Backoff(10))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.Backoff(3))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond}

	got, err := Retry(context.Background(), p, "embed", nil, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUp(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	p := RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond}

	_, err := Retry(context.Background(), p, "chat", nil, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0

	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 5}, "chat", nil, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetry_PerAttemptTimeout(t *testing.T) {
	p := RetryPolicy{MaxRetries: 1, InitialBackoff: time.Millisecond, Timeout: 10 * time.Millisecond}
	calls := 0

	_, err := Retry(context.Background(), p, "slow", nil, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestRetry_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, RetryPolicy{MaxRetries: 3}, "op", NewLimiter(1, 1), func(context.Context) (int, error) {
		t.Fatal("fn must not run with a cancelled context")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 1))

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background()))

	l := NewLimiter(1000, 2)
	require.NotNil(t, l)
	assert.NoError(t, l.Wait(context.Background()))
}
