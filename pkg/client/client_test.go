package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSupervisor(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/daemons", func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(DaemonStatus{Name: req.Name, Command: req.Command, Args: req.Args, State: "inactive"})
	})
	mux.HandleFunc("POST /api/daemons/web/start", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(DaemonStatus{Name: "web", PID: 42, State: "active"})
	})
	mux.HandleFunc("GET /api/daemons", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]DaemonStatus{{Name: "web", State: "active", PID: 42}, {Name: "db", State: "crashed", Outcome: "signal 9 (killed)"}})
	})
	mux.HandleFunc("GET /api/daemons/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "validation error: daemon not found: " + r.PathValue("name")})
	})
	mux.HandleFunc("DELETE /api/daemons/web", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("not json"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	srv := fakeSupervisor(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	st, err := c.Register(ctx, RegisterRequest{Name: "web", Command: "serve.sh", Args: []string{"-v"}})
	require.NoError(t, err)
	assert.Equal(t, DaemonStatus{Name: "web", Command: "serve.sh", Args: []string{"-v"}, State: "inactive"}, st)

	st, err = c.Start(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, 42, st.PID)

	all, err := c.StatusAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "signal 9 (killed)", all[1].Outcome)
}

func TestClientErrors(t *testing.T) {
	srv := fakeSupervisor(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	_, err := c.Status(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "daemon not found: ghost")

	err = c.Unregister(ctx, "web")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
	assert.Equal(t, "HTTP 409", ae.Error())
	assert.False(t, IsNotFound(err))
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api"})
	assert.False(t, c.IsReachable(context.Background()))
}

func TestSetupClientTLS(t *testing.T) {
	cfg, err := setupClientTLS(Config{Insecure: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	cfg, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, ServerName: "legion.local"}})
	require.NoError(t, err)
	assert.Equal(t, "legion.local", cfg.ServerName)
	assert.False(t, cfg.InsecureSkipVerify)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o600))
	_, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: bad}})
	require.Error(t, err)
}

func TestDaemonPathEscapes(t *testing.T) {
	assert.Equal(t, "/daemons/web", daemonPath("web", ""))
	assert.Equal(t, "/daemons/a%20b/stop", daemonPath("a b", "stop"))
}
