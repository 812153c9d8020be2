// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/statroom/statroom/internal/engine"
	"github.com/statroom/statroom/internal/middleware"
	"github.com/statroom/statroom/internal/registry"
)

// TrackerWSHandler upgrades the live tracker connection and runs its read
// and write pumps. One frame in = one engine dispatch; outbound traffic is
// drained from the connection's registry channel.
func TrackerWSHandler(logger *logrus.Logger, eng *engine.Engine, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		// Resolve identity before the upgrade, while the cookie can still
		// be set.
		if _, err := EnsureSession(w, r); err != nil {
			logger.Warnf("session resolution failed for %s: %v", remoteAddr, err)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"tracker"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "tracker" {
			c.Close(BadSubprotocolError, "client must speak the tracker subprotocol")
			return
		}

		middleware.LogWebSocketConnect(logger, remoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		conn := registry.NewConn(cancel)

		go writePump(ctx, c, conn, logger)

		readErr := readPump(ctx, c, conn, eng, logger)

		// Detach only unbinds the user mapping; the player stays in the
		// room so a rejoin can pick the identity back up.
		reg.Detach(conn)
		middleware.LogWebSocketDisconnect(logger, remoteAddr, r.URL.Path, readErr)
	}
}

// readPump reads frames until the connection dies and hands each one to the
// engine. Engine dispatch runs on a background context: a mutation already
// in flight must complete and broadcast even if this socket closes under it.
func readPump(ctx context.Context, c *websocket.Conn, conn *registry.Conn, eng *engine.Engine, logger *logrus.Logger) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}

		if typ != websocket.MessageText {
			logger.Warnf("ignoring non-text frame type %d", typ)
			continue
		}

		eng.HandleMessage(context.Background(), conn, msg)
	}
}

// writePump drains the outbound channel onto the wire and pings on an
// interval to detect dead peers.
func writePump(ctx context.Context, c *websocket.Conn, conn *registry.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing message: %v", err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("websocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("websocket ping failed, assuming disconnect: %v", err)
				return
			}
		}
	}
}
