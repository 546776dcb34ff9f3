package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapflowio/mongocdc"
)

type fixedStatus struct{ status mongocdc.Status }

func (f fixedStatus) State() mongocdc.Status { return f.status }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAdminStatus(t *testing.T) {
	h := adminRouter(fixedStatus{mongocdc.Status{State: "tailing", Attempts: 0, Checkpoint: "429496729601"}})

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tailing", body["state"])
	assert.Equal(t, "429496729601", body["checkpoint"])
	assert.NotContains(t, body, "error")

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
}

func TestAdminHealthzAfterFatalError(t *testing.T) {
	h := adminRouter(fixedStatus{mongocdc.Status{State: "destroyed", Error: "handle stage failed"}})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/healthz").Code)
}

func TestAdminMetricsWithoutTelemetry(t *testing.T) {
	h := adminRouter(fixedStatus{mongocdc.Status{State: "idle"}})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mongocdc.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[connector]
server = "db1:27017"
db = "app"
collection = "orders"
source = "system:mongo.orders"
maxSendCount = 50

[sink]
type = "stdout"
`)
	file, cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, "stdout", file.Sink.Type)
	assert.Equal(t, "app.orders", cfg.Namespace())
	assert.Equal(t, 50, cfg.MaxSendCount)
	assert.Equal(t, "debug", cfg.Logger.LogLevel.String())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, _, err := load(writeConfig(t, `
[connector]
db = "app"

[checkpoint_store]
type = "pebble"
`))
	assert.Error(t, err)

	_, _, err = load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, `
[connector]
db = "app"
collection = "orders"
code = "exports.projection = ['sku']; exports.handler = function (e) { return e.obj; };"
`)
	cmd := checkCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok: app.orders -> stdout sink")
}
