package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pevans/cpexport/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// Test helper: isolate config lookup from the host and write a payload file
func setupPayload(t *testing.T, payload string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{config.EnvPort, config.EnvHost, config.EnvSavePath, config.EnvAssetsPath, config.EnvMetricsAddr, config.EnvLogLevel, config.EnvOTLPEndpoint} {
		t.Setenv(key, "")
	}

	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))
	return path
}

// Test helper: run the root command with args and capture stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		resetFlags := func(f *pflag.Flag) {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
		rootCmd.PersistentFlags().VisitAll(resetFlags)
		for _, c := range rootCmd.Commands() {
			c.Flags().VisitAll(resetFlags)
		}
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// TestReadExport verifies payload files decode like request bodies
func TestReadExport(t *testing.T) {
	path := setupPayload(t, `{"questionId": "1", "title": "Two Sum", "timeLimit": 2000}`)

	p, err := readExport(path)
	require.NoError(t, err)
	assert.Equal(t, "1 Two Sum", p.NoteName())
	assert.Equal(t, "2000", p.TimeLimit.String())

	_, err = readExport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := setupPayload(t, `{"title":`)
	_, err = readExport(bad)
	assert.Error(t, err)
}

// TestRenderCommand verifies render prints the note and its tasks as JSON
func TestRenderCommand(t *testing.T) {
	path := setupPayload(t, `{"questionId": "1", "title": "Two Sum", "content": "<img src=\"https://x.com/a.png\">"}`)

	out, err := execute(t, "render", "--json", "--assets-path", "media", path)
	require.NoError(t, err)

	var rendered renderOutput
	require.NoError(t, json.Unmarshal([]byte(out), &rendered))
	assert.Equal(t, "1 Two Sum", rendered.Name)
	require.Len(t, rendered.Tasks, 1)
	assert.Equal(t, "media/Two Sum-img-1-a.png", rendered.Tasks[0].LocalPath)
	assert.Contains(t, rendered.Content, `src="media/Two Sum-img-1-a.png"`)
}

// TestImportCommand verifies import saves notes under the save path
func TestImportCommand(t *testing.T) {
	path := setupPayload(t, `{"questionId": "7", "title": "Reverse", "currentCode": "x"}`)
	savePath := filepath.Join(t.TempDir(), "CP")

	out, err := execute(t, "import", "--save-path", savePath, path)
	require.NoError(t, err)

	notePath := filepath.Join(savePath, "7 Reverse.md")
	assert.Contains(t, out, "File created: "+notePath)
	assert.FileExists(t, notePath)
}

// TestImportCommand_InvalidConfig verifies configuration errors stop the run
func TestImportCommand_InvalidConfig(t *testing.T) {
	path := setupPayload(t, `{"title": "X"}`)

	_, err := execute(t, "import", "--format", "pdf", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_format")
}

// TestImportCommand_ExportsTraces verifies a configured OTLP endpoint
// receives the spans recorded while importing
func TestImportCommand_ExportsTraces(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var exports atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/traces", func(w http.ResponseWriter, r *http.Request) {
		exports.Add(1)
		w.Header().Set("Content-Type", "application/x-protobuf")
	})
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PNG"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := setupPayload(t, `{"questionId": "1", "title": "Two Sum", "content": "<img src=\"`+server.URL+`/a.png\">"}`)
	savePath := filepath.Join(t.TempDir(), "CP")

	out, err := execute(t, "import", "--save-path", savePath, "--otlp-endpoint", server.URL+"/v1/traces", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Downloaded 1 images.")
	assert.FileExists(t, filepath.Join(savePath, "assets", "Two Sum-img-1-a.png"))
	assert.GreaterOrEqual(t, exports.Load(), int32(1), "spans should be flushed on exit")
}
