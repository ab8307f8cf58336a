package legion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readyScript = `echo "MODE=$MODE"
printf r >&3
trap 'exit 0' TERM
while :; do sleep 0.05; done
`

func newFacade(t *testing.T, opts ...Option) (*Manager, ManagerConfig) {
	t.Helper()
	root := t.TempDir()
	c := ManagerConfig{
		DaemonsDir:   filepath.Join(root, "daemons"),
		LogDir:       filepath.Join(root, "logs"),
		StartTimeout: 2 * time.Second,
		StopTimeout:  2 * time.Second,
	}
	require.NoError(t, os.MkdirAll(c.DaemonsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.DaemonsDir, "ready.sh"), []byte("#!/bin/sh\n"+readyScript), 0o755))
	m := New(c, opts...)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, c
}

func TestFacadeLifecycle(t *testing.T) {
	m, c := newFacade(t, WithEnv([]string{"MODE=facade", "broken"}))
	ctx := context.Background()

	require.NoError(t, m.Register("web", "ready.sh"))
	require.NoError(t, m.Start(ctx, "web"))

	st, err := m.Status("web")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, map[string]int{"web": st.PID}, m.ActivePIDs())

	require.NoError(t, m.Stop(ctx, "web"))
	st, _ = m.Status("web")
	assert.Equal(t, StateExited, st.State)
	assert.Equal(t, Exited{Code: 0}, st.Outcome)

	b, err := os.ReadFile(filepath.Join(c.LogDir, "web.log.0"))
	require.NoError(t, err)
	assert.Equal(t, "MODE=facade\n", string(b))

	// terminal records must be reset before another start
	require.NoError(t, m.Stop(ctx, "web"))
	require.NoError(t, m.Unregister("web"))
	assert.Empty(t, m.StatusAll())
}

func TestFacadeErrorsAreClassified(t *testing.T) {
	m, _ := newFacade(t)

	err := m.Start(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrValidation))

	require.NoError(t, m.Register("web", "ready.sh"))
	err = m.Register("web", "ready.sh")
	assert.True(t, errors.Is(err, ErrDuplicate))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, errors.Is(m.Register("other", "ready.sh"), ErrShuttingDown))
}

func TestNewHTTPHandler(t *testing.T) {
	m, _ := newFacade(t)
	require.NoError(t, m.Register("web", "ready.sh"))

	srv := httptest.NewServer(NewHTTPHandler(m, "/api", nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/daemons/web")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/daemons/web/usage")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestNewHTTPServerTLS(t *testing.T) {
	srv, err := NewHTTPServer("127.0.0.1:0", http.NotFoundHandler(), TLSOptions{})
	require.NoError(t, err)
	assert.False(t, TLSEnabled(srv))

	dir := t.TempDir()
	srv, err = NewHTTPServer("127.0.0.1:0", http.NotFoundHandler(), TLSOptions{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	assert.True(t, TLSEnabled(srv))

	_, err = NewHTTPServer("127.0.0.1:0", http.NotFoundHandler(), TLSOptions{Enabled: true})
	require.Error(t, err)
}

func TestNewHistorySinks(t *testing.T) {
	sinks, err := NewHistorySinks([]string{"sqlite://:memory:"}, nil)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	m, _ := newFacade(t, WithHistory(sinks...))
	t.Cleanup(func() { _ = m.CloseHistory() })
	require.NoError(t, m.Register("web", "ready.sh"))

	_, err = NewHistorySinks([]string{"mongodb://x"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported"))
}

func TestNewMetricsServer(t *testing.T) {
	srv := NewMetricsServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
