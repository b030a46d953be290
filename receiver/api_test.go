package receiver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pevans/cpexport/assets"
	"github.com/pevans/cpexport/metrics"
	"github.com/pevans/cpexport/notes"
	"github.com/pevans/cpexport/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testEnv bundles a router with the state tests inspect.
type testEnv struct {
	router     *gin.Engine
	root       string
	recorder   *notify.Recorder
	downloader *assets.Downloader
}

// Test helper: create an ingestion router writing notes under root
func setupTestRouter(t *testing.T, root string) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := notify.NewRecorder(nil)
	m := metrics.New(prometheus.NewRegistry())
	downloader := assets.NewDownloader(assets.DownloaderConfig{
		Root:           root,
		InitialBackoff: 10 * time.Millisecond,
		Timeout:        2 * time.Second,
	}, recorder, m, logger)

	api := NewAPIServer(
		notes.NewRenderer(assets.NewExtractor("assets"), "html"),
		notes.NewStore(root),
		downloader,
		recorder,
		m,
		logger,
	)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		downloader.Wait(ctx)
	})

	return &testEnv{
		router:     api.SetupRouter(),
		root:       root,
		recorder:   recorder,
		downloader: downloader,
	}
}

// Test helper: perform a request against the router
func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// Test helper: decode a JSON body into a generic map
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

const twoSumPayload = `{
	"questionId": "1",
	"title": "Two Sum",
	"content": "<p>Find two numbers.</p>",
	"difficulty": "Easy",
	"tags": ["Array"],
	"problemLink": "https://leetcode.com/problems/two-sum/",
	"currentCode": "pass",
	"language": "python",
	"timestamp": "2025-03-01T10:00:00Z",
	"platform": "leetcode"
}`

// TestHandleAdd_InvalidJSON verifies malformed bodies are rejected without
// touching the filesystem
func TestHandleAdd_InvalidJSON(t *testing.T) {
	bodies := map[string]string{
		"truncated":        `{"title": "Two Sum",`,
		"trailing garbage": `{"questionId":"1","title":"A"} trailing-garbage`,
		"second value":     `{"questionId":"2","title":"B"}{"x":1}`,
		"null":             `null`,
		"array":            `[]`,
		"empty":            ``,
	}

	for name, payload := range bodies {
		t.Run(name, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "notes")
			env := setupTestRouter(t, root)

			req := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, "error", body["status"])
			assert.True(t, strings.HasPrefix(body["message"].(string), "Error processing request: "))

			_, err := os.Stat(root)
			assert.True(t, os.IsNotExist(err), "no directory should be created")
			assert.Empty(t, env.recorder.Messages())
		})
	}
}

// TestHandleAdd_Success verifies a note is saved and reported
func TestHandleAdd_Success(t *testing.T) {
	env := setupTestRouter(t, t.TempDir())

	w := env.do(http.MethodPost, "/add", twoSumPayload)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	path := filepath.Join(env.root, "1 Two Sum.md")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "File created: "+path, body["message"])
	assert.NotContains(t, body, "downloadedImages", "no hint without images")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "link: https://leetcode.com/problems/two-sum/\n")
	assert.Contains(t, string(data), "<p>Find two numbers.</p>")
	assert.Contains(t, string(data), "```python\npass\n```\n")

	assert.Equal(t, []string{"File created: " + path}, env.recorder.Messages())
	assert.Equal(t, int64(0), env.downloader.Pending())
}

// TestHandleAdd_WithImages verifies images are queued and mirrored after the
// response
func TestHandleAdd_WithImages(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PNG"))
	}))
	defer images.Close()

	env := setupTestRouter(t, t.TempDir())
	payload := `{"questionId": "2", "title": "Grid", "content": "<img src=\"` + images.URL + `/g.png\">"}`

	w := env.do(http.MethodPost, "/add", payload)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Downloading 1 images...", body["downloadedImages"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.downloader.Wait(ctx))

	asset := filepath.Join(env.root, "assets", "Grid-img-1-g.png")
	assert.FileExists(t, asset)
	note, err := os.ReadFile(filepath.Join(env.root, "2 Grid.md"))
	require.NoError(t, err)
	assert.Contains(t, string(note), `src="assets/Grid-img-1-g.png"`)

	assert.Equal(t, []string{
		"File created: " + filepath.Join(env.root, "2 Grid.md"),
		"Downloading 1 images...",
		"Downloaded 1 images successfully.",
	}, env.recorder.Messages())
}

// TestHandleAdd_Collision verifies a second export of the same problem gets
// a fresh file
func TestHandleAdd_Collision(t *testing.T) {
	env := setupTestRouter(t, t.TempDir())

	first := decodeBody(t, env.do(http.MethodPost, "/add", twoSumPayload))
	second := decodeBody(t, env.do(http.MethodPost, "/add", twoSumPayload))

	assert.Equal(t, "success", second["status"])
	assert.NotEqual(t, first["message"], second["message"])

	entries, err := os.ReadDir(env.root)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// TestHandleAdd_StoreFailure verifies filesystem errors become a 500
func TestHandleAdd_StoreFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))
	env := setupTestRouter(t, root)

	w := env.do(http.MethodPost, "/add", twoSumPayload)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "error", body["status"])
	assert.True(t, strings.HasPrefix(body["message"].(string), "Failed to create file: "))
}

// TestCORS verifies cross-origin headers and preflight handling
func TestCORS(t *testing.T) {
	env := setupTestRouter(t, t.TempDir())

	for _, path := range []string{"/add", "/anything"} {
		w := env.do(http.MethodOptions, path, "")

		assert.Equal(t, http.StatusNoContent, w.Code, path)
		assert.Empty(t, w.Body.String(), path)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	}

	w := env.do(http.MethodPost, "/add", twoSumPayload)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// TestNotFound verifies every other method and path gets the 404 shape
func TestNotFound(t *testing.T) {
	env := setupTestRouter(t, t.TempDir())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/add"},
		{http.MethodPost, "/other"},
		{http.MethodGet, "/"},
		{http.MethodDelete, "/add"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(tt.method, tt.path, "")

			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, map[string]any{"status": "error", "message": "Not found"}, decodeBody(t, w))
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

// TestRequestID verifies each response carries a fresh request id
func TestRequestID(t *testing.T) {
	env := setupTestRouter(t, t.TempDir())

	first := env.do(http.MethodGet, "/", "").Header().Get("X-Request-ID")
	second := env.do(http.MethodGet, "/", "").Header().Get("X-Request-ID")

	_, err := uuid.Parse(first)
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)
}
