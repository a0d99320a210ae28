package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/aranyaone/relay/internal/domain"
	"github.com/aranyaone/relay/internal/hub"
)

// Time allowed to write one message to the peer.
const writeWait = 10 * time.Second

// Bridge ties the WebSocket edge to the hub core: it authenticates upgrade
// requests, registers sessions, and runs the per-connection read/write pumps.
// The hub itself never sees a websocket type.
type Bridge struct {
	hub           *hub.Hub
	authenticator domain.Authenticator
}

// NewBridge creates a bridge over the given hub and authenticator.
func NewBridge(h *hub.Hub, authenticator domain.Authenticator) *Bridge {
	return &Bridge{hub: h, authenticator: authenticator}
}

// Handler returns the echo handler for WebSocket upgrade requests. The bearer
// credential travels in the Authorization header or, for browser clients that
// cannot set headers on WebSocket dials, a "token" query parameter. A bad
// credential closes the connection before any session exists.
func (b *Bridge) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		credential := bearerCredential(c.Request())

		identity, err := b.authenticator.Authenticate(c.Request().Context(), credential)
		if err != nil {
			slog.Info("WebSocket authentication failed", "remote", c.RealIP(), "error", err)
			return c.String(http.StatusUnauthorized, "authentication failed")
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			InsecureSkipVerify: true, // In production, check origin.
		})
		if err != nil {
			slog.Error("Failed to upgrade connection to WebSocket", "error", err)
			return err
		}

		session, err := b.hub.Connect(c.Request().Context(), identity)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "session setup failed")
			return err
		}

		go b.writePump(session, conn)
		go b.readPump(session, conn)

		return nil
	}
}

// readPump feeds inbound frames to the hub router until the connection dies,
// then deregisters the session.
func (b *Bridge) readPump(session *hub.Session, conn *websocket.Conn) {
	defer func() {
		b.hub.Disconnect(session.ID, "connection_closed")
		conn.Close(websocket.StatusNormalClosure, "Client disconnected")
	}()

	for {
		_, frame, err := conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				slog.Info("WebSocket closed normally by client", "sessionID", session.ID)
			} else if err != io.EOF {
				slog.Error("WebSocket read error", "sessionID", session.ID, "error", err)
			}
			return
		}

		b.hub.Route(context.Background(), session.ID, frame)
	}
}

// writePump drains the session's send channel to the connection. The channel
// closing (session removed) ends the pump and the connection with it.
func (b *Bridge) writePump(session *hub.Session, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "Server-side cleanup")

	messages := session.Messages()
	if messages == nil {
		// Session was removed before the pump started.
		return
	}

	for message := range messages {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err := conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			slog.Error("WebSocket write error", "sessionID", session.ID, "error", err)
			return
		}
	}
}

// bearerCredential extracts the opaque credential from the request.
func bearerCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}
