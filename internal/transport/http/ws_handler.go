package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"quiz-server/internal/app"
	"quiz-server/internal/protocol"
)

// LineHandler answers one request line for a session.
type LineHandler interface {
	HandleLine(ctx context.Context, s *app.Session, line string) (protocol.Response, bool)
}

// WSHandler bridges websocket clients onto the line protocol. Every text
// frame carries one request line and gets one text frame back.
type WSHandler struct {
	handler   LineHandler
	tracker   app.SessionTracker
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	readLimit int64

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing bool
	workers sync.WaitGroup
}

func NewWSHandler(handler LineHandler, tracker app.SessionTracker, logger *slog.Logger) *WSHandler {
	if tracker == nil {
		tracker = app.NoopTracker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		handler: handler,
		tracker: tracker,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// SetReadLimit bounds a single frame, mirroring the TCP line limit.
func (h *WSHandler) SetReadLimit(n int64) {
	h.readLimit = n
}

// ServeWS upgrades the request and serves protocol lines until the client
// disconnects or sends DISCONNECT.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}
	if !h.track(conn) {
		goingAway(conn)
		conn.Close()
		return
	}

	ctx := context.WithoutCancel(r.Context())
	id := uuid.NewString()
	logger := h.logger.With("conn", id, "remote", r.RemoteAddr, "transport", "ws")
	session := app.NewSession(id, logger)
	h.tracker.Opened(ctx, id)
	logger.Info("client connected")

	defer func() {
		session.Clear()
		h.tracker.Closed(ctx, id)
		conn.Close()
		logger.Info("client disconnected")
		h.untrack(conn)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case h.isClosing():
				goingAway(conn)
			case !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Debug("ws read ended", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		line := strings.TrimRight(string(data), "\r\n")
		resp, closeConn := h.handler.HandleLine(ctx, session, line)
		if resp != nil {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp.Message().Encode())); err != nil {
				logger.Warn("ws write failed", "err", err)
				return
			}
		}
		if closeConn {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func goingAway(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
}

func (h *WSHandler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[conn] = struct{}{}
	h.workers.Add(1)
	return true
}

func (h *WSHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.workers.Done()
}

func (h *WSHandler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Shutdown drains websocket clients. http.Server shutdown does not reach
// hijacked connections, so the caller invokes this after it. Idle readers are
// woken by an expired read deadline and leave with a going-away frame; a
// request already in the handler writes its reply first. Sockets still open
// when ctx ends are closed.
func (h *WSHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for conn := range h.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	h.mu.Lock()
	open := len(h.conns)
	for conn := range h.conns {
		conn.Close()
	}
	h.mu.Unlock()
	h.logger.Warn("ws drain timeout, closed remaining connections", "open", open)
	<-done
	return ctx.Err()
}

type healthPayload struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
}

// ServeHealth reports liveness and the number of tracked sessions across
// both transports.
func (h *WSHandler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthPayload{Status: "ok", ActiveSessions: h.tracker.Active()})
}

// Routes mounts /ws and /healthz.
func (h *WSHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.ServeHealth)
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}
