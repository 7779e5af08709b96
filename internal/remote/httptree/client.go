// Package httptree is a remote.Tree backed by the tree server's HTTP API.
// Pushes arrive on one Server-Sent-Events stream per session; the stream is
// reopened with capped exponential backoff and watches are re-armed on the
// new session.
package httptree

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"budgetsync/internal/log"
	"budgetsync/internal/remote"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxEventSize   = 8 << 20
)

var _ remote.Tree = (*Client)(nil)

type Config struct {
	BaseURL string
	// HTTPClient serves request/response calls. The event stream always uses
	// a client without an overall timeout.
	HTTPClient *http.Client
	MaxBackoff time.Duration
}

type watch struct {
	path     string
	dispatch *remote.Dispatcher
}

type Client struct {
	base       string
	http       *http.Client
	stream     *http.Client
	maxBackoff time.Duration

	mu           sync.Mutex
	token        string
	uid          string
	sessionID    string
	sessionReady chan struct{}
	watches      map[string]*watch
	disconnect   []string
	streaming    bool
	closed       bool
	cancel       context.CancelFunc
	done         chan struct{}
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Client{
		base:         strings.TrimRight(cfg.BaseURL, "/"),
		http:         hc,
		stream:       &http.Client{Transport: hc.Transport},
		maxBackoff:   cfg.MaxBackoff,
		sessionReady: make(chan struct{}),
		watches:      make(map[string]*watch),
		done:         make(chan struct{}),
	}
}

// backoff returns the delay before reconnect attempt n (0-based).
func (c *Client) backoff(n int) time.Duration {
	d := initialBackoff
	for i := 0; i < n && d < c.maxBackoff; i++ {
		d *= 2
	}
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func escapePath(path string) string {
	segs := remote.SplitPath(path)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, auth bool) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		c.mu.Lock()
		token, closed := c.token, c.closed
		c.mu.Unlock()
		if closed {
			return remote.ErrClosed
		}
		if token == "" {
			return remote.ErrUnauthenticated
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", remote.ErrOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		switch resp.StatusCode {
		case http.StatusPreconditionFailed:
			return remote.ErrRevisionMismatch
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", remote.ErrUnauthenticated, apiErr.Message)
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: status %d", remote.ErrOffline, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d %s", method, endpoint, resp.StatusCode, apiErr.Message)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// SignInAnonymously obtains a token and opens the event stream.
func (c *Client) SignInAnonymously(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/anonymous", nil, &resp, false); err != nil {
		if errors.Is(err, remote.ErrUnauthenticated) {
			return "", fmt.Errorf("%w: %v", remote.ErrAuthRejected, err)
		}
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", remote.ErrClosed
	}
	c.token, c.uid = resp.Token, resp.UID
	if !c.streaming {
		c.streaming = true
		streamCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.streamLoop(streamCtx)
	}
	return resp.UID, nil
}

func (c *Client) Get(ctx context.Context, path string) (remote.Snapshot, error) {
	var snap remote.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/tree"+escapePath(path), nil, &snap, true)
	return snap, err
}

type putBody struct {
	Value      any    `json:"value"`
	IfRevision *int64 `json:"ifRevision,omitempty"`
}

type revisionBody struct {
	Revision int64 `json:"revision"`
}

func (c *Client) Set(ctx context.Context, path string, value any) (int64, error) {
	var out revisionBody
	err := c.do(ctx, http.MethodPut, "/v1/tree"+escapePath(path), putBody{Value: value}, &out, true)
	return out.Revision, err
}

func (c *Client) SetIf(ctx context.Context, path string, value any, revision int64) (int64, error) {
	var out revisionBody
	err := c.do(ctx, http.MethodPut, "/v1/tree"+escapePath(path), putBody{Value: value, IfRevision: &revision}, &out, true)
	return out.Revision, err
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) (int64, error) {
	var out revisionBody
	err := c.do(ctx, http.MethodPatch, "/v1/tree"+escapePath(path), map[string]any{"fields": fields}, &out, true)
	return out.Revision, err
}

func (c *Client) Remove(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/v1/tree"+escapePath(path), nil, nil, true)
}

func (c *Client) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	var out struct {
		Children map[string]json.RawMessage `json:"children"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/children"+escapePath(path), nil, &out, true); err != nil {
		return nil, err
	}
	if out.Children == nil {
		out.Children = map[string]json.RawMessage{}
	}
	return out.Children, nil
}

// session waits for the stream to announce its session id.
func (c *Client) session(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		sid, ready, closed, streaming := c.sessionID, c.sessionReady, c.closed, c.streaming
		c.mu.Unlock()
		switch {
		case closed:
			return "", remote.ErrClosed
		case !streaming:
			return "", remote.ErrUnauthenticated
		case sid != "":
			return sid, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.done:
			return "", remote.ErrClosed
		case <-ready:
		}
	}
}

func (c *Client) armWatch(ctx context.Context, sid, id, path string) error {
	body := map[string]string{"path": path, "watchId": id}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sid)+"/watches", body, nil, true)
}

func (c *Client) armDisconnect(ctx context.Context, sid, path string) error {
	body := map[string]string{"path": path}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sid)+"/ondisconnect", body, nil, true)
}

func (c *Client) Watch(ctx context.Context, path string, fn remote.WatchFunc) (func(), error) {
	sid, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	w := &watch{path: path, dispatch: remote.NewDispatcher(fn)}
	c.mu.Lock()
	c.watches[id] = w
	c.mu.Unlock()

	if err := c.armWatch(ctx, sid, id, path); err != nil {
		c.dropWatch(id)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.dropWatch(id)
			c.mu.Lock()
			sid := c.sessionID
			c.mu.Unlock()
			if sid == "" {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = c.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sid)+"/watches/"+id, nil, nil, true)
			}()
		})
	}, nil
}

func (c *Client) dropWatch(id string) {
	c.mu.Lock()
	w, ok := c.watches[id]
	delete(c.watches, id)
	c.mu.Unlock()
	if ok {
		w.dispatch.Stop()
	}
}

// OnDisconnectRemove arms the removal on the current session and remembers
// it so a reconnected session is armed again.
func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	sid, err := c.session(ctx)
	if err != nil {
		return err
	}
	if err := c.armDisconnect(ctx, sid, path); err != nil {
		return err
	}
	c.mu.Lock()
	c.disconnect = append(c.disconnect, path)
	c.mu.Unlock()
	return nil
}

// Close ends the stream; the server then applies the disconnect removals.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, streaming := c.cancel, c.streaming
	watches := c.watches
	c.watches = map[string]*watch{}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !streaming {
		close(c.done)
	}
	for _, w := range watches {
		w.dispatch.Stop()
	}
	<-c.done
	return nil
}

func (c *Client) streamLoop(ctx context.Context) {
	defer close(c.done)
	logger := slog.Default().With(log.FieldComponent, log.ComponentRemote)

	attempt := 0
	for {
		established, err := c.runStream(ctx)
		c.resetSession()
		if ctx.Err() != nil {
			return
		}
		if established {
			attempt = 0
		}
		delay := c.backoff(attempt)
		attempt++
		logger.Warn("Tree stream lost, reconnecting",
			log.FieldAttempt, attempt,
			"delay", delay,
			log.FieldError, err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Client) resetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		c.sessionID = ""
		c.sessionReady = make(chan struct{})
	}
}

// runStream reads one stream until it ends. established reports whether a
// session was announced.
func (c *Client) runStream(ctx context.Context) (established bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/stream", nil)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || data.Len() > 0 {
				if c.handleEvent(ctx, event, []byte(data.String())) {
					established = true
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return established, err
	}
	return established, io.EOF
}

// handleEvent dispatches one event and reports whether it opened a session.
func (c *Client) handleEvent(ctx context.Context, event string, data []byte) bool {
	switch event {
	case "session":
		var ev struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(data, &ev); err != nil || ev.SessionID == "" {
			return false
		}
		c.mu.Lock()
		if c.sessionID == "" {
			close(c.sessionReady)
		}
		c.sessionID = ev.SessionID
		watches := make(map[string]string, len(c.watches))
		for id, w := range c.watches {
			watches[id] = w.path
		}
		disconnect := append([]string(nil), c.disconnect...)
		c.mu.Unlock()

		if len(watches) > 0 || len(disconnect) > 0 {
			go c.rearm(ctx, ev.SessionID, watches, disconnect)
		}
		return true

	case "value":
		var ev struct {
			WatchID  string          `json:"watchId"`
			Value    json.RawMessage `json:"value"`
			Revision int64           `json:"revision"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return false
		}
		c.mu.Lock()
		w, ok := c.watches[ev.WatchID]
		c.mu.Unlock()
		if ok {
			w.dispatch.Push(remote.Snapshot{Value: ev.Value, Revision: ev.Revision})
		}
	}
	return false
}

// rearm restores watches and disconnect removals on a new session.
func (c *Client) rearm(ctx context.Context, sid string, watches map[string]string, disconnect []string) {
	logger := slog.Default().With(log.FieldComponent, log.ComponentRemote, log.FieldSessionID, sid)
	for id, path := range watches {
		if err := c.armWatch(ctx, sid, id, path); err != nil {
			logger.Warn("Watch not restored", log.FieldRemotePath, path, log.FieldError, err)
		}
	}
	for _, path := range disconnect {
		if err := c.armDisconnect(ctx, sid, path); err != nil {
			logger.Warn("Disconnect removal not restored", log.FieldRemotePath, path, log.FieldError, err)
		}
	}
}
