package broker

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devconsole/devconsole/internal/protocol"
)

const (
	// writeWait bounds how long a single frame write may take.
	writeWait = 10 * time.Second

	// maxMessageSize bounds an inbound event; DevConsole events are small
	// control/data frames, not bulk transfers.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// DevConsole has no authentication/authorization layer (Non-goal);
		// it is meant for same-host developer tooling.
		return true
	},
}

// wsWriter adapts a gorilla websocket connection to the broker's Writer
// interface. It is only ever called from one goroutine — Session's pump —
// so no write-side locking is needed here.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) WriteEvent(e protocol.Event) error {
	data, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

// ServeWS upgrades an HTTP request to a websocket connection, registers it
// with the broker, and runs its read loop until the peer disconnects or a
// read error occurs. It is meant to be wired as an http.HandlerFunc.
func ServeWS(b *Broker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn.SetReadLimit(maxMessageSize)

		session := b.Accept(&wsWriter{conn: conn})
		if session == nil {
			// Broker is shutting down.
			conn.Close()
			return
		}

		readLoop(b, session, conn, logger)
	}
}

func readLoop(b *Broker, session *Session, conn *websocket.Conn, logger *zap.Logger) {
	defer b.Disconnect(session)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error",
					zap.Uint64("node_id", uint64(session.NodeID())), zap.Error(err))
			}
			return
		}

		event, err := protocol.Decode(data)
		if err != nil {
			// ProtocolError: malformed JSON. Logged and dropped, never
			// terminates the session.
			logger.Warn("malformed event, dropping",
				zap.Uint64("node_id", uint64(session.NodeID())), zap.Error(err))
			continue
		}

		b.Dispatch(session, event)
	}
}
