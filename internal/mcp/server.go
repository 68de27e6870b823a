// internal/mcp/server.go

// Package mcp hosts the control-plane HTTP server: a JSON command endpoint for
// driving sessions and searches, plus a websocket stream of progress events.
package mcp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/engine"
)

// Gorilla websocket timeouts and limits.
const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 4096
	sendChannelSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds to loopback by default; cross-origin subscribers are a
	// deliberate choice by whoever changed the listen address.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the control-plane host.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	engine     *engine.Engine
	handlers   *Handlers
	httpServer *http.Server

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewServer wires the control plane around an existing engine.
func NewServer(cfg *config.Config, eng *engine.Engine, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.Named("mcp_server"),
		engine:  eng,
		clients: make(map[*wsClient]struct{}),
	}
	s.handlers = NewHandlers(logger, eng)
	return s
}

// Start runs the HTTP listener until the context is cancelled, then shuts the
// server and the engine down gracefully.
func (s *Server) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// Websocket route stays outside the logging middleware group; hijacked
	// connections confuse it.
	r.Get("/ws/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		s.handlers.RegisterRoutes(r)
	})

	s.httpServer = &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: r,
	}

	// Fan engine events out to websocket subscribers.
	go s.broadcastLoop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control-plane server starting.", zap.String("address", s.cfg.Server.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down control-plane server.")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error.", zap.Error(err))
	}
	if err := s.engine.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Engine shutdown error.", zap.Error(err))
	}
	s.logger.Info("Control-plane server stopped.")
	return nil
}

// broadcastLoop drains the engine event stream into every connected client.
func (s *Server) broadcastLoop() {
	for ev := range s.engine.Events() {
		s.mu.Lock()
		for c := range s.clients {
			select {
			case c.send <- ev:
			default:
				// Slow subscriber; drop rather than stall the stream.
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) register(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// handleEvents upgrades the connection and streams engine events to it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket.", zap.Error(err))
		return
	}
	client := &wsClient{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		send:   make(chan engine.Event, sendChannelSize),
	}
	s.logger.Info("Event subscriber connected.",
		zap.String("client_id", client.id),
		zap.String("remote_addr", r.RemoteAddr))
	s.register(client)

	go client.writePump()
	client.readPump()
}

// wsClient is one event subscriber. The write pump owns all writes to the
// connection; the read pump only services control frames.
type wsClient struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan engine.Event
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
		c.server.logger.Debug("Event subscriber disconnected.", zap.String("client_id", c.id))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Subscribers do not send application messages; reads exist to detect
		// closure and service pongs.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("WebSocket closed unexpectedly.", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
