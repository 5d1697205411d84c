package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/messages"
	"github.com/verdant-game/verdant/pkg/session"
	"nhooyr.io/websocket"
)

const (
	// DefaultWriteTimeout bounds a single outbound write so one stalled
	// client cannot wedge its write loop forever.
	DefaultWriteTimeout = 10 * time.Second
)

// WSServer accepts WebSocket connections and hands each one to the
// session manager. Inbound messages for a connection are dispatched
// one at a time, in arrival order.
type WSServer struct {
	port           int
	tls            *TLSConfig
	originPatterns []string
	sessions       *session.Manager
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewWSServerOptions struct {
	Port           int
	TLS            *TLSConfig
	OriginPatterns []string
	SessionManager *session.Manager
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(opts NewWSServerOptions) *WSServer {
	return &WSServer{
		port:           opts.Port,
		tls:            opts.TLS,
		originPatterns: opts.OriginPatterns,
		sessions:       opts.SessionManager,
	}
}

// Start starts the WebSocket server and blocks until the context is
// cancelled or the listener fails.
func (s *WSServer) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.originPatterns,
		})
		if err != nil {
			log.Error("Failed to accept WebSocket connection: %v", err)
			return
		}
		log.Debug("New WebSocket connection from %s", r.RemoteAddr)
		go s.handleConnection(ctx, conn)
	})

	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	var listenAndServe func() error
	if s.tls != nil {
		log.Info("WebSocket server listening on %s with TLS", addr)
		listenAndServe = func() error {
			return server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("WebSocket server listening on %s", addr)
		listenAndServe = server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return
		}
		log.Error("WebSocket server error: %v", err)
	}
}

// handleConnection runs the read loop for one connection. Dispatching
// synchronously keeps each sender's events in order.
func (s *WSServer) handleConnection(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(messages.MessageBufferSize)

	sess := s.sessions.StartSession(ctx, &wsConn{conn: conn})
	defer sess.Disconnect("connection closed")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Trace("Connection closed for session %s", sess.ID)
			} else {
				log.Debug("Error reading from session %s: %v", sess.ID, err)
			}
			return
		}

		msg, err := messages.DeserializeMessage(data)
		if err != nil {
			log.Warn("Failed to deserialize message from session %s: %v", sess.ID, err)
			continue
		}

		sess.HandleMessage(ctx, msg)
	}
}

// wsConn adapts a WebSocket connection to the session and broadcast
// write interfaces.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(ctx context.Context, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultWriteTimeout)
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
