package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/legion/internal/manager"
	"github.com/loykin/legion/internal/process"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeName validates daemon names used in log file names.
// Allowed characters: A-Z a-z 0-9 . _ - and no consecutive dots forming "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// isSafeCommand accepts a path relative to the daemons directory that does
// not climb out of it.
func isSafeCommand(s string) bool {
	if s == "" || strings.HasPrefix(s, "/") {
		return false
	}
	for _, part := range strings.Split(s, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// statusFor maps an error category to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mng.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mng.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, mng.ErrDuplicate), errors.Is(err, mng.ErrInvalidState), errors.Is(err, mng.ErrStillActive):
		return http.StatusConflict
	case errors.Is(err, process.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, process.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}
