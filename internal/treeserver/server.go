// Package treeserver exposes a memory.Hub over HTTP: JSON for reads and
// writes, one Server-Sent-Events stream per client session for pushes.
package treeserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"budgetsync/internal/log"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/memory"
)

type Config struct {
	JWTSecret []byte
	TokenTTL  time.Duration
	// KeepAlive is the interval between SSE comment pings.
	KeepAlive time.Duration
}

func DefaultConfig() Config {
	return Config{
		TokenTTL:  24 * time.Hour,
		KeepAlive: 15 * time.Second,
	}
}

type Server struct {
	cfg   Config
	hub   *memory.Hub
	admin *memory.Conn
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New wires a server around hub. The server performs tree reads and writes
// through its own signed-in session.
func New(hub *memory.Hub, cfg Config) (*Server, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}

	admin := hub.Connect()
	if _, err := admin.SignInAnonymously(context.Background()); err != nil {
		return nil, fmt.Errorf("sign in server session: %w", err)
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		admin:    admin,
		now:      time.Now,
		sessions: make(map[string]*session),
	}, nil
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "revision": s.hub.Revision()})
	})

	v1 := r.Group("/v1")
	v1.POST("/auth/anonymous", s.signIn)

	authed := v1.Group("")
	authed.Use(s.authRequired())
	authed.GET("/tree/*path", s.getNode)
	authed.PUT("/tree/*path", s.putNode)
	authed.PATCH("/tree/*path", s.patchNode)
	authed.DELETE("/tree/*path", s.deleteNode)
	authed.GET("/children/*path", s.listChildren)
	authed.GET("/stream", s.stream)
	authed.POST("/sessions/:id/watches", s.addWatch)
	authed.DELETE("/sessions/:id/watches/:watch", s.removeWatch)
	authed.POST("/sessions/:id/ondisconnect", s.armDisconnect)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		slog.Log(c.Request.Context(), log.HTTPLevel(status), "Tree request completed",
			log.FieldComponent, log.ComponentTree,
			log.FieldMethod, c.Request.Method,
			log.FieldPath, c.Request.URL.Path,
			log.FieldStatusCode, status,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldClientIP, c.ClientIP())
	}
}

type putRequest struct {
	Value      json.RawMessage `json:"value"`
	IfRevision *int64          `json:"ifRevision,omitempty"`
}

type patchRequest struct {
	Fields map[string]json.RawMessage `json:"fields"`
}

type revisionResponse struct {
	Revision int64 `json:"revision"`
}

type childrenResponse struct {
	Children map[string]json.RawMessage `json:"children"`
}

func (s *Server) getNode(c *gin.Context) {
	snap, err := s.admin.Get(c.Request.Context(), c.Param("path"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(snap.Value) == 0 {
		snap.Value = json.RawMessage("null")
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) putNode(c *gin.Context) {
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	ctx := c.Request.Context()
	var (
		rev int64
		err error
	)
	if req.IfRevision != nil {
		rev, err = s.admin.SetIf(ctx, c.Param("path"), req.Value, *req.IfRevision)
	} else {
		rev, err = s.admin.Set(ctx, c.Param("path"), req.Value)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, revisionResponse{Revision: rev})
}

func (s *Server) patchNode(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	fields := make(map[string]any, len(req.Fields))
	for k, v := range req.Fields {
		fields[k] = v
	}
	rev, err := s.admin.Update(c.Request.Context(), c.Param("path"), fields)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, revisionResponse{Revision: rev})
}

func (s *Server) deleteNode(c *gin.Context) {
	if err := s.admin.Remove(c.Request.Context(), c.Param("path")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listChildren(c *gin.Context) {
	children, err := s.admin.List(c.Request.Context(), c.Param("path"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, childrenResponse{Children: children})
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, remote.ErrRevisionMismatch):
		abortWith(c, http.StatusPreconditionFailed, "REVISION_MISMATCH", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		abortWith(c, http.StatusServiceUnavailable, "TIMEOUT", err.Error())
	default:
		slog.ErrorContext(c.Request.Context(), "Tree operation failed",
			log.FieldComponent, log.ComponentTree,
			log.FieldPath, c.Param("path"),
			log.FieldError, err)
		abortWith(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

// DropSessions ends every open stream as if the clients had gone away.
func (s *Server) DropSessions() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		s.closeSession(sess)
	}
}

// Close drops all sessions and the server's own connection.
func (s *Server) Close() error {
	s.DropSessions()
	return s.admin.Close()
}

// Sessions reports the number of open streams.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
