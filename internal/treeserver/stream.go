package treeserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"budgetsync/internal/log"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/memory"
)

// ValueEvent is the payload of a "value" stream event.
type ValueEvent struct {
	WatchID  string          `json:"watchId"`
	Value    json.RawMessage `json:"value"`
	Revision int64           `json:"revision"`
}

// SessionEvent is the first event on every stream.
type SessionEvent struct {
	SessionID string `json:"sessionId"`
}

type session struct {
	id     string
	uid    string
	conn   *memory.Conn
	events chan ValueEvent
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	watches map[string]func()
}

func (s *Server) openSession(ctx context.Context, uid string) (*session, error) {
	conn := s.hub.Connect()
	if _, err := conn.SignInAnonymously(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	sess := &session{
		id:      conn.ID(),
		uid:     uid,
		conn:    conn,
		events:  make(chan ValueEvent, 32),
		done:    make(chan struct{}),
		watches: make(map[string]func()),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) closeSession(sess *session) {
	sess.once.Do(func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()

		close(sess.done)
		sess.conn.Close()
		slog.Info("Tree session closed",
			log.FieldComponent, log.ComponentTree,
			log.FieldSessionID, sess.id)
	})
}

// lookupSession returns the caller's session or aborts the request.
func (s *Server) lookupSession(c *gin.Context) (*session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		abortWith(c, http.StatusNotFound, "SESSION_NOT_FOUND", "no open stream for session")
		return nil, false
	}
	if sess.uid != c.GetString(ctxUID) {
		abortWith(c, http.StatusForbidden, "FORBIDDEN", "session belongs to another identity")
		return nil, false
	}
	return sess, true
}

// stream holds the SSE connection open. When it ends, for any reason, the
// session closes and its disconnect removals run.
func (s *Server) stream(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.openSession(ctx, c.GetString(ctxUID))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer s.closeSession(sess)

	slog.InfoContext(ctx, "Tree session opened",
		log.FieldComponent, log.ComponentTree,
		log.FieldSessionID, sess.id,
		"uid", sess.uid)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.SSEvent("session", SessionEvent{SessionID: sess.id})
	c.Writer.Flush()

	ping := time.NewTicker(s.cfg.KeepAlive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case ev := <-sess.events:
			c.SSEvent("value", ev)
			c.Writer.Flush()
		case <-ping.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

type watchRequest struct {
	Path string `json:"path"`
	// WatchID lets the client pick the id so events that beat the response
	// can still be routed.
	WatchID string `json:"watchId,omitempty"`
}

type watchResponse struct {
	WatchID string `json:"watchId"`
}

func (s *Server) addWatch(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	watchID := req.WatchID
	if watchID == "" {
		watchID = uuid.NewString()
	}
	stop, err := sess.conn.Watch(c.Request.Context(), req.Path, func(snap remote.Snapshot) {
		select {
		case sess.events <- ValueEvent{WatchID: watchID, Value: snap.Value, Revision: snap.Revision}:
		case <-sess.done:
		}
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	sess.mu.Lock()
	if prev, ok := sess.watches[watchID]; ok {
		prev()
	}
	sess.watches[watchID] = stop
	sess.mu.Unlock()
	c.JSON(http.StatusCreated, watchResponse{WatchID: watchID})
}

func (s *Server) removeWatch(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	sess.mu.Lock()
	stop, found := sess.watches[c.Param("watch")]
	delete(sess.watches, c.Param("watch"))
	sess.mu.Unlock()
	if found {
		stop()
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) armDisconnect(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := sess.conn.OnDisconnectRemove(c.Request.Context(), req.Path); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
