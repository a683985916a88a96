package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader promotes HTTP requests to WebSocket connections; it accepts any
// origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSocket adapts *websocket.Conn to the hub's narrow socket interface.
type wsSocket struct {
	conn *websocket.Conn
}

func (w *wsSocket) WriteJSON(v any) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsSocket) ReadJSON(v any) error {
	return w.conn.ReadJSON(v)
}

func (w *wsSocket) Close() error {
	return w.conn.Close()
}

// Upgrade promotes an HTTP request to a WebSocket connection and registers
// it with the hub, returning the minted session id. Grounded on
// codeready-toolchain-tarsy's pkg/api/websocket.go HandleWS handler.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, metadata map[string]any) (string, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return "", err
	}
	return h.AddConnection(&wsSocket{conn: conn}, metadata), nil
}
