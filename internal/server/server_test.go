package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regulation-rag/internal/config"
	"regulation-rag/internal/models"
)

type fakeAnswerer struct {
	resp    *models.Response
	err     error
	message string
	history []models.Turn
}

func (f *fakeAnswerer) Query(ctx context.Context, message string, history []models.Turn) (*models.Response, error) {
	f.message, f.history = message, history
	return f.resp, f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Documents.Root = t.TempDir()
	cfg.ApplyDefaults()
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(&fakeAnswerer{}, testConfig(t))
	rec := do(t, s.Handler(), http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestChat(t *testing.T) {
	answerer := &fakeAnswerer{resp: models.NewResponse("Staj 20 iş günüdür.", []models.Citation{{Name: "staj.pdf", URL: "/docs/staj.pdf"}})}
	s := New(answerer, testConfig(t))

	body := `{"message":"Staj kaç gün?","history":[{"role":"user","content":"Merhaba"}]}`
	rec := do(t, s.Handler(), http.MethodPost, "/chat", body, map[string]string{"Content-Type": "application/json"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"answer":"Staj 20 iş günüdür.","sources":[{"name":"staj.pdf","url":"/docs/staj.pdf"}]}`, rec.Body.String())
	assert.Equal(t, "Staj kaç gün?", answerer.message)
	assert.Equal(t, []models.Turn{{Role: models.RoleUser, Content: "Merhaba"}}, answerer.history)
}

func TestChatEmptySourcesSerializeAsList(t *testing.T) {
	s := New(&fakeAnswerer{resp: models.NewResponse(models.DefaultRefusal, nil)}, testConfig(t))
	rec := do(t, s.Handler(), http.MethodPost, "/chat", `{"message":"hava?"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []any{}, out["sources"])
}

func TestChatBadRequest(t *testing.T) {
	s := New(&fakeAnswerer{}, testConfig(t))
	rec := do(t, s.Handler(), http.MethodPost, "/chat", `{"message":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/chat", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChatErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"embedding", fmt.Errorf("%w: timeout", models.ErrEmbedding), http.StatusBadGateway},
		{"generation", fmt.Errorf("%w: overloaded", models.ErrGeneration), http.StatusBadGateway},
		{"index", fmt.Errorf("%w: connection refused", models.ErrIndex), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeAnswerer{err: tt.err}, testConfig(t))
			rec := do(t, s.Handler(), http.MethodPost, "/chat", `{"message":"q"}`, nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), tt.err.Error())
		})
	}
}

func TestCORS(t *testing.T) {
	s := New(&fakeAnswerer{resp: models.NewResponse("ok", nil)}, testConfig(t))

	rec := do(t, s.Handler(), http.MethodOptions, "/chat", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	cfg := testConfig(t)
	cfg.Server.CORSOrigins = []string{"https://ogrenci.example.edu"}
	s = New(&fakeAnswerer{resp: models.NewResponse("ok", nil)}, cfg)

	rec = do(t, s.Handler(), http.MethodPost, "/chat", `{"message":"q"}`, map[string]string{"Origin": "https://ogrenci.example.edu"})
	assert.Equal(t, "https://ogrenci.example.edu", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s.Handler(), http.MethodPost, "/chat", `{"message":"q"}`, map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServesDocuments(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Documents.Root, "staj.pdf"), []byte("%PDF-1.4"), 0o600))
	s := New(&fakeAnswerer{}, cfg)

	rec := do(t, s.Handler(), http.MethodGet, "/docs/staj.pdf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())

	rec = do(t, s.Handler(), http.MethodGet, "/docs/missing.pdf", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentRouteDoesNotListDirectories(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Documents.Root, "staj.pdf"), []byte("%PDF-1.4"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(cfg.Documents.Root, "arsiv"), 0o755))
	s := New(&fakeAnswerer{}, cfg)

	for _, path := range []string{"/docs/", "/docs/arsiv/", "/docs/arsiv"} {
		rec := do(t, s.Handler(), http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "staj.pdf", path)
	}
}

func TestNoDocumentRoute(t *testing.T) {
	cfg := testConfig(t)
	cfg.Documents.Root = filepath.Join(t.TempDir(), "missing")
	s := New(&fakeAnswerer{}, cfg)

	rec := do(t, s.Handler(), http.MethodGet, "/docs/staj.pdf", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListenAndServeShutsDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"
	s := New(&fakeAnswerer{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestChatRequestLogObject(t *testing.T) {
	var buf strings.Builder
	req := &ChatRequest{Message: "gizli", History: make([]models.Turn, 2)}
	logger := zerolog.New(&buf)
	logger.Info().Object("request", req).Msg("")

	assert.Contains(t, buf.String(), `"message_len":5`)
	assert.Contains(t, buf.String(), `"history":2`)
	assert.NotContains(t, buf.String(), "gizli")
}
