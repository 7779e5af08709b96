package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/log"
	"budgetsync/internal/services"
)

const (
	eventStatus   = "status"
	eventDocument = "document"

	keepAliveInterval = 25 * time.Second
)

// eventOrder fixes the order pending events are written in.
var eventOrder = []string{eventStatus, eventDocument}

// eventHub fans ledger and status changes out to event stream clients.
// Each client keeps only the newest payload per event name, since every
// payload is a full snapshot.
type eventHub struct {
	mu      sync.Mutex
	clients map[*eventClient]struct{}
	done    chan struct{}
	closed  bool
	unsubs  []func()
}

type eventClient struct {
	mu      sync.Mutex
	pending map[string][]byte
	signal  chan struct{}
}

func newEventHub(ledger *services.Ledger) *eventHub {
	h := &eventHub{
		clients: make(map[*eventClient]struct{}),
		done:    make(chan struct{}),
	}
	if ledger != nil {
		h.unsubs = append(h.unsubs,
			ledger.OnChange(func(doc core.Document) { h.publish(eventDocument, doc) }),
			ledger.Coordinator().Tracker().Subscribe(func(st services.Status) { h.publish(eventStatus, st) }),
		)
	}
	return h
}

func (h *eventHub) subscribe() *eventClient {
	c := &eventClient{pending: make(map[string][]byte), signal: make(chan struct{}, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *eventHub) unsubscribe(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *eventHub) publish(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.offer(event, data)
	}
}

func (h *eventHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close ends every stream and detaches from the ledger.
func (h *eventHub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubs := h.unsubs
	h.unsubs = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

func (c *eventClient) offer(event string, data []byte) {
	c.mu.Lock()
	c.pending[event] = data
	c.mu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *eventClient) drain() [][2]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][2]string, 0, len(c.pending))
	for _, name := range eventOrder {
		if data, ok := c.pending[name]; ok {
			out = append(out, [2]string{name, string(data)})
			delete(c.pending, name)
		}
	}
	return out
}

func writeEvent(w http.ResponseWriter, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// handleEvents streams status and document snapshots, starting with the
// current ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()

	client := s.events.subscribe()
	defer s.events.unsubscribe(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Seed after subscribing so a change in between is not lost.
	client.offer(eventStatus, mustJSON(s.ledger.Coordinator().Status()))
	client.offer(eventDocument, mustJSON(s.ledger.Document()))

	log.FromContext(ctx).DebugContext(ctx, "Event stream opened", "clients", s.events.size())

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.events.done:
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-client.signal:
			for _, ev := range client.drain() {
				if err := writeEvent(w, ev[0], ev[1]); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}
