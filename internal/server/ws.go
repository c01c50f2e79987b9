package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

func marshalJobEvent(job *models.Job) ([]byte, error) {
	return json.Marshal(toJobResponse(job, true))
}

const (
	writeTimeout = 5 * time.Second
	// broadcastTimeout bounds the job fetch that backs a broadcast.
	broadcastTimeout = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API carries no credentials; origin enforcement belongs to the
	// deployment's proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans job progress out to websocket subscribers, one subscriber set
// per job ID.
type Hub struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[*websocket.Conn]chan []byte
	closed bool
}

// NewHub creates an empty hub over the given store.
func NewHub(store Store, logger *slog.Logger) *Hub {
	return &Hub{
		store:  store,
		logger: logger,
		subs:   make(map[string]map[*websocket.Conn]chan []byte),
	}
}

// Subscribe upgrades the request and streams the job's state on every
// change until the client disconnects.
func (h *Hub) Subscribe(c *gin.Context) {
	jobID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}

	send := make(chan []byte, 16)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*websocket.Conn]chan []byte)
	}
	h.subs[jobID][conn] = send
	h.mu.Unlock()

	h.logger.Debug("progress subscriber attached", "job_id", jobID)

	go h.writeLoop(conn, send)

	// Push the current state immediately so the subscriber does not wait
	// for the next transition.
	h.Broadcast(jobID)

	// Reads only serve to detect disconnect; inbound frames are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.detach(jobID, conn)
}

func (h *Hub) writeLoop(conn *websocket.Conn, send <-chan []byte) {
	defer conn.Close()
	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) detach(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.subs[jobID]; ok {
		if send, ok := set[conn]; ok {
			close(send)
			delete(set, conn)
		}
		if len(set) == 0 {
			delete(h.subs, jobID)
		}
	}
	h.mu.Unlock()
	conn.Close()
}

// Broadcast fetches the job's current state and sends it to that job's
// subscribers. Slow subscribers drop frames rather than stall the rest;
// the next broadcast carries fresher state anyway.
func (h *Hub) Broadcast(jobID string) {
	h.mu.Lock()
	n := len(h.subs[jobID])
	h.mu.Unlock()
	if n == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	job, err := h.store.GetJob(ctx, jobID)
	cancel()
	if err != nil {
		h.logger.Warn("broadcast fetch failed", "job_id", jobID, "error", err)
		return
	}

	msg, err := marshalJobEvent(job)
	if err != nil {
		h.logger.Warn("broadcast encode failed", "job_id", jobID, "error", err)
		return
	}

	h.mu.Lock()
	for _, send := range h.subs[jobID] {
		select {
		case send <- msg:
		default:
		}
	}
	h.mu.Unlock()
}

// Close drops all subscribers. Used during server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for jobID, set := range h.subs {
		for conn, send := range set {
			close(send)
			conn.Close()
		}
		delete(h.subs, jobID)
	}
}
