// Package testutil provides shared helpers for substrate tests: request
// envelope builders, router drivers, and envelope assertions.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

// ScriptEnvelope builds a local run_script request envelope.
func ScriptEnvelope(script string) map[string]interface{} {
	return map[string]interface{}{
		"version": "1.0",
		"command": map[string]interface{}{
			"type":   "run_script",
			"script": script,
		},
		"execution": map[string]interface{}{"mode": "local"},
	}
}

// FileOpEnvelope builds a local file_op request envelope. Extra keys are
// merged into the command object.
func FileOpEnvelope(op, path string, extra map[string]interface{}) map[string]interface{} {
	cmd := map[string]interface{}{
		"type": "file_op",
		"op":   op,
		"path": path,
	}
	for k, v := range extra {
		cmd[k] = v
	}
	return map[string]interface{}{
		"version":   "1.0",
		"command":   cmd,
		"execution": map[string]interface{}{"mode": "local"},
	}
}

// RemoteEnvelope builds a request envelope against a remote host. The
// mutate hook can adjust the envelope before it is returned.
func RemoteEnvelope(cmdType, host string, mutate func(map[string]interface{})) map[string]interface{} {
	env := map[string]interface{}{
		"version": "1.0",
		"command": map[string]interface{}{"type": cmdType},
		"execution": map[string]interface{}{
			"mode": "ssh",
			"host": host,
		},
	}
	if mutate != nil {
		mutate(env)
	}
	return env
}

// PostJSON serves one JSON POST through the handler.
func PostJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := sonic.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// GetJSON serves one GET through the handler.
func GetJSON(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// Do serves one request with an arbitrary method and optional JSON body.
func Do(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// Decode unmarshals a recorded JSON response body.
func Decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var m map[string]interface{}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &m), "body: %s", w.Body.String())
	return m
}

// RequireEnvelopeSuccess asserts a success envelope and returns its data.
func RequireEnvelopeSuccess(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	body := Decode(t, w)
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok, "missing result: %s", w.Body.String())
	require.Equal(t, "success", result["status"], "body: %s", w.Body.String())

	data, _ := result["data"].(map[string]interface{})
	return data
}

// RequireEnvelopeError asserts an error envelope carrying one of the
// accepted codes and returns the error body.
func RequireEnvelopeError(t *testing.T, w *httptest.ResponseRecorder, codes ...string) map[string]interface{} {
	t.Helper()

	body := Decode(t, w)
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok, "missing result: %s", w.Body.String())
	require.Equal(t, "error", result["status"], "body: %s", w.Body.String())

	errBody, ok := result["error"].(map[string]interface{})
	require.True(t, ok, "missing error body: %s", w.Body.String())

	if len(codes) > 0 {
		require.Contains(t, codes, errBody["code"], "body: %s", w.Body.String())
	}
	return errBody
}

// WriteCredentials writes a YAML credential inventory into a temp dir
// and returns its path.
func WriteCredentials(t *testing.T, yaml string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}
