package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mng "github.com/loykin/legion/internal/manager"
	"github.com/loykin/legion/internal/metrics"
	"github.com/loykin/legion/internal/process"
)

const serveScript = `#!/bin/sh
printf r >&3
trap 'exit 0' TERM
while :; do sleep 0.05; done
`

func setupRouter(t *testing.T, base string) (http.Handler, *mng.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	daemons := filepath.Join(root, "daemons")
	require.NoError(t, os.MkdirAll(daemons, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(daemons, "serve.sh"), []byte(serveScript), 0o755))
	mgr := mng.New(mng.Config{
		DaemonsDir:   daemons,
		LogDir:       filepath.Join(root, "logs"),
		StartTimeout: 2 * time.Second,
		StopTimeout:  2 * time.Second,
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	return NewRouter(mgr, base).Handler(), mgr
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) mng.Status {
	t.Helper()
	var st mng.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st), rec.Body.String())
	return st
}

func TestDaemonLifecycleOverHTTP(t *testing.T) {
	h, _ := setupRouter(t, "/api")

	rec := doReq(t, h, http.MethodPost, "/api/daemons", registerReq{Name: "web", Command: "serve.sh"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	st := decodeStatus(t, rec)
	assert.Equal(t, mng.StateInactive, st.State)
	assert.Equal(t, 0, st.PID)

	rec = doReq(t, h, http.MethodPost, "/api/daemons/web/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st = decodeStatus(t, rec)
	assert.Equal(t, mng.StateActive, st.State)
	assert.Greater(t, st.PID, 0)
	assert.True(t, st.Alive)

	rec = doReq(t, h, http.MethodDelete, "/api/daemons/web", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/daemons/web/logrotate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mng.StateActive, decodeStatus(t, rec).State)

	rec = doReq(t, h, http.MethodPost, "/api/daemons/web/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeStatus(t, rec)
	assert.Equal(t, mng.StateExited, st.State)
	assert.Equal(t, "exit status 0", st.ExitInfo)

	rec = doReq(t, h, http.MethodPost, "/api/daemons/web/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mng.StateInactive, decodeStatus(t, rec).State)

	rec = doReq(t, h, http.MethodDelete, "/api/daemons/web", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(t, h, http.MethodGet, "/api/daemons/web", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusAllEndpoint(t *testing.T) {
	h, mgr := setupRouter(t, "")

	rec := doReq(t, h, http.MethodGet, "/daemons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	require.NoError(t, mgr.Register("b", "serve.sh"))
	require.NoError(t, mgr.Register("a", "serve.sh", "x"))
	rec = doReq(t, h, http.MethodGet, "/daemons", nil)
	var sts []mng.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sts))
	require.Len(t, sts, 2)
	assert.Equal(t, "b", sts[0].Name)
	assert.Equal(t, []string{"x"}, sts[1].Args)
}

func TestRegisterValidation(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad json", "not-an-object", http.StatusBadRequest},
		{"missing name", registerReq{Command: "serve.sh"}, http.StatusBadRequest},
		{"traversal name", registerReq{Name: "../x", Command: "serve.sh"}, http.StatusBadRequest},
		{"absolute command", registerReq{Name: "x", Command: "/bin/sh"}, http.StatusBadRequest},
		{"climbing command", registerReq{Name: "x", Command: "../bin/sh"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doReq(t, h, http.MethodPost, "/api/daemons", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := doReq(t, h, http.MethodPost, "/api/daemons", registerReq{Name: "dup", Command: "serve.sh"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/api/daemons", registerReq{Name: "dup", Command: "serve.sh"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOperationErrors(t *testing.T) {
	h, mgr := setupRouter(t, "")
	require.NoError(t, mgr.Register("idle", "serve.sh"))

	rec := doReq(t, h, http.MethodPost, "/daemons/idle/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/daemons/ghost/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "not found")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", mng.ErrNotFound), http.StatusNotFound},
		{mng.ErrDuplicate, http.StatusConflict},
		{mng.ErrStillActive, http.StatusConflict},
		{mng.ErrInvalidName, http.StatusBadRequest},
		{mng.ErrShuttingDown, http.StatusServiceUnavailable},
		{process.ErrStartTimeout, http.StatusGatewayTimeout},
		{process.ErrSyncFailed, http.StatusInternalServerError},
		{mng.ErrCapacity, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUsageEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, mgr := setupRouter(t, "")
	require.NoError(t, mgr.Register("web", "serve.sh"))

	h := NewRouter(mgr, "").Handler()
	rec := doReq(t, h, http.MethodGet, "/daemons/web/usage", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	u := metrics.NewUsageCollector(time.Hour, nil)
	h = NewRouter(mgr, "").WithUsage(u).Handler()
	require.NoError(t, mgr.Start(context.Background(), "web"))
	u.Collect(mgr.ActivePIDs())

	rec = doReq(t, h, http.MethodGet, "/daemons/web/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got metrics.Usage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	st, _ := mgr.Status("web")
	assert.Equal(t, st.PID, got.PID)

	rec = doReq(t, h, http.MethodGet, "/daemons/ghost/usage", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	h, _ := setupRouter(t, "api/")
	rec := doReq(t, h, http.MethodGet, "/api/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestStopSurvivesDroppedRequest(t *testing.T) {
	h, mgr := setupRouter(t, "/api")
	slow := "#!/bin/sh\nprintf r >&3\ntrap 'sleep 0.3; exit 0' TERM\nwhile :; do sleep 0.05; done\n"
	require.NoError(t, os.WriteFile(filepath.Join(mgr.Config().DaemonsDir, "slow.sh"), []byte(slow), 0o755))
	require.Equal(t, http.StatusCreated, doReq(t, h, http.MethodPost, "/api/daemons", registerReq{Name: "slow", Command: "slow.sh"}).Code)
	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/daemons/slow/start", nil).Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)
	req := httptest.NewRequest(http.MethodPost, "/api/daemons/slow/stop", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	st, err := mgr.Status("slow")
	require.NoError(t, err)
	assert.Equal(t, mng.StateExited, st.State)
	assert.Equal(t, process.Exited{Code: 0}, st.Outcome)
}
