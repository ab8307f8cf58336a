package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/legion/internal/manager"
	"github.com/loykin/legion/internal/metrics"
)

// Supervisor is the set of facade operations exposed over HTTP.
type Supervisor interface {
	Register(name, command string, args ...string) error
	Unregister(name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	LogRotate(ctx context.Context, name string) error
	Status(name string) (mng.Status, error)
	StatusAll() []mng.Status
}

// Router provides embeddable HTTP handlers for managing daemons.
// Endpoints:
//
//	POST   {basePath}/daemons                   body: {"name","command","args"}
//	GET    {basePath}/daemons                   all daemons in registration order
//	GET    {basePath}/daemons/:name
//	DELETE {basePath}/daemons/:name
//	POST   {basePath}/daemons/:name/start
//	POST   {basePath}/daemons/:name/stop
//	POST   {basePath}/daemons/:name/logrotate
//	GET    {basePath}/daemons/:name/usage       when a usage collector is attached
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      Supervisor
	basePath string
	usage    *metrics.UsageCollector
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(sup Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// WithUsage attaches a resource usage collector.
func (r *Router) WithUsage(u *metrics.UsageCollector) *Router {
	r.usage = u
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	group.POST("/daemons", r.handleRegister)
	group.GET("/daemons", r.handleStatusAll)
	group.GET("/daemons/:name", r.handleStatus)
	group.DELETE("/daemons/:name", r.handleUnregister)
	group.POST("/daemons/:name/start", r.handleOp(r.sup.Start))
	group.POST("/daemons/:name/stop", r.handleOp(r.sup.Stop))
	group.POST("/daemons/:name/logrotate", r.handleOp(r.sup.LogRotate))
	group.GET("/daemons/:name/usage", r.handleUsage)
	return g
}

// NewServer builds an HTTP server on addr serving this router.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type registerReq struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

func (r *Router) handleRegister(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	if !isSafeCommand(req.Command) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid command: must be relative to the daemons directory"})
		return
	}
	if err := r.sup.Register(req.Name, req.Command, req.Args...); err != nil {
		writeError(c, err)
		return
	}
	st, err := r.sup.Status(req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, st)
}

func (r *Router) handleUnregister(c *gin.Context) {
	if err := r.sup.Unregister(c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleOp runs a state-changing operation and replies with the new status.
func (r *Router) handleOp(op func(context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := op(c.Request.Context(), name); err != nil {
			writeError(c, err)
			return
		}
		st, err := r.sup.Status(name)
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, st)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.sup.Status(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStatusAll(c *gin.Context) {
	sts := r.sup.StatusAll()
	if sts == nil {
		sts = []mng.Status{}
	}
	writeJSON(c, http.StatusOK, sts)
}

func (r *Router) handleUsage(c *gin.Context) {
	name := c.Param("name")
	if _, err := r.sup.Status(name); err != nil {
		writeError(c, err)
		return
	}
	if r.usage == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "usage collection is disabled"})
		return
	}
	u, ok := r.usage.Latest(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no usage sample for " + name})
		return
	}
	writeJSON(c, http.StatusOK, u)
}
