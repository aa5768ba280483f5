package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/dispatch"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

const (
	// clipboardTimeout bounds how long a copy waits for the browser to
	// acknowledge a clipboard write.
	clipboardTimeout = 5 * time.Second

	// actionQueueSize is the number of actions a session buffers while a
	// previous one is still running.
	actionQueueSize = 64

	writeTimeout = 10 * time.Second
)

// MessageEnvelope represents a multiplexed WebSocket message.
//
// Client to server: {blockID, action, data} targets a block; the
// "clipboard-ack" action answers a clipboard request.
// Server to client: "update" carries {html} for blockID, "clipboard" carries
// {requestId, text}, "reload" asks the page to reload.
type MessageEnvelope struct {
	BlockID string          `json:"blockID"`
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type clipboardRequest struct {
	RequestID string `json:"requestId"`
	Text      string `json:"text"`
}

type clipboardAck struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}

type blockUpdate struct {
	HTML string `json:"html"`
}

// session is one browser connected to one lesson. It owns the lesson view
// mounted for that browser.
type session struct {
	server *Server
	conn   *websocket.Conn
	route  *Route
	debug  bool
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // gorilla allows a single concurrent writer

	mu      sync.Mutex
	view    *dispatch.View
	pending map[string]chan string // clipboard request id -> error text

	actions chan MessageEnvelope
}

// serveWebSocket handles the live channel for the lesson named by the
// "lesson" query parameter (its URL pattern).
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("lesson")
	route, ok := s.Route(pattern)
	if !ok {
		http.Error(w, "Lesson not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Failed to upgrade connection: %v", err)
		return
	}

	sess := newSession(s, conn, route)
	s.registerSession(sess)
	defer func() {
		s.unregisterSession(sess)
		sess.close()
	}()

	sess.run()
}

func newSession(s *Server, conn *websocket.Conn, route *Route) *session {
	ctx, cancel := context.WithCancel(s.ctx)
	return &session{
		server:  s,
		conn:    conn,
		route:   route,
		debug:   s.config.Server.Debug,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan string),
		actions: make(chan MessageEnvelope, actionQueueSize),
	}
}

func (c *session) run() {
	if c.debug {
		log.Printf("[WS] Client connected: %s (%s)", c.conn.RemoteAddr(), c.route.Pattern)
	}

	var cb clipboard.Clipboard = clipboard.Func(c.writeClipboard)
	if c.server.clip != nil {
		cb = c.server.clip
	}
	view := dispatch.Mount(c.ctx, c.server.Dispatcher(cb), c.route.Lesson, c.push)
	c.mu.Lock()
	c.view = view
	c.mu.Unlock()

	// Widgets may have settled between the page render and now.
	for _, sec := range view.Sections() {
		for _, b := range sec.Blocks {
			c.push(b.ID())
		}
	}

	go c.work()

	// Handle messages
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Unexpected close: %v", err)
			}
			break
		}

		if c.debug {
			log.Printf("[WS] Received: %s", message)
		}

		c.handleMessage(message)
	}

	if c.debug {
		log.Printf("[WS] Client disconnected: %s", c.conn.RemoteAddr())
	}
}

// handleMessage resolves clipboard acknowledgements inline and queues
// block actions. Actions run on a separate goroutine so a copy can wait for
// its acknowledgement while this loop keeps reading.
func (c *session) handleMessage(message []byte) {
	var envelope MessageEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		log.Printf("[WS] Failed to parse message: %v", err)
		return
	}

	if envelope.Action == "clipboard-ack" {
		var ack clipboardAck
		if err := json.Unmarshal(envelope.Data, &ack); err != nil {
			log.Printf("[WS] Invalid clipboard ack: %v", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[ack.RequestID]
		delete(c.pending, ack.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- ack.Error
		}
		return
	}

	select {
	case c.actions <- envelope:
	case <-c.ctx.Done():
	default:
		log.Printf("[WS] Action queue full, dropping %s on %s", envelope.Action, envelope.BlockID)
	}
}

// work executes queued actions in arrival order.
func (c *session) work() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.actions:
			c.mu.Lock()
			view := c.view
			c.mu.Unlock()

			if err := view.Action(c.ctx, env.BlockID, env.Action, env.Data); err != nil {
				log.Printf("[WS] Error handling action: %v", err)
				if errors.Is(err, dispatch.ErrUnknownBlock) {
					continue
				}
			}
			// Widgets do not report their own changes.
			c.push(env.BlockID)
		}
	}
}

// push re-renders a block and sends it to the browser.
func (c *session) push(blockID string) {
	c.mu.Lock()
	view := c.view
	c.mu.Unlock()
	if view == nil {
		return
	}

	html, err := view.RenderBlock(c.ctx, blockID)
	if err != nil {
		log.Printf("[WS] Failed to render %s: %v", blockID, err)
		return
	}
	if err := c.send(MessageEnvelope{
		BlockID: blockID,
		Action:  "update",
		Data:    mustJSON(blockUpdate{HTML: string(html)}),
	}); err != nil && c.debug {
		log.Printf("[WS] Failed to send update for %s: %v", blockID, err)
	}
}

// writeClipboard asks the browser to write text and waits for its answer.
func (c *session) writeClipboard(ctx context.Context, text string) error {
	id := uuid.NewString()
	ch := make(chan string, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(MessageEnvelope{
		Action: "clipboard",
		Data:   mustJSON(clipboardRequest{RequestID: id, Text: text}),
	}); err != nil {
		return fmt.Errorf("%w: %v", clipboard.ErrUnavailable, err)
	}

	timer := time.NewTimer(clipboardTimeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if msg != "" {
			return fmt.Errorf("browser clipboard: %s", msg)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no acknowledgement from browser", clipboard.ErrUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return clipboard.ErrUnavailable
	}
}

// send writes a message envelope over the connection.
func (c *session) send(envelope MessageEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	if c.debug {
		log.Printf("[WS] Sent: %s", data)
	}
	return nil
}

// close tears down the view and the connection. Safe to call repeatedly.
func (c *session) close() {
	c.cancel()

	c.mu.Lock()
	view := c.view
	c.mu.Unlock()
	if view != nil {
		view.Close()
	}
	c.conn.Close()
}
