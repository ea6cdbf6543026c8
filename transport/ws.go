package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsCloseGrace = time.Second

// WebSocket adapts a websocket connection into a Transport. Each
// inbound message (text or binary) is forwarded as one byte chunk;
// each Send becomes one text message, since frames are UTF-8 JSON.
type WebSocket struct {
	conn *websocket.Conn
	recv chan []byte
	done chan struct{}
	once sync.Once
}

// NewWebSocket starts a WebSocket transport over an established
// connection (server side after Upgrade, client side after Dial).
// The transport takes ownership of conn's read side.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	t := &WebSocket{
		conn: conn,
		recv: make(chan []byte, recvBuffer),
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *WebSocket) readLoop() {
	defer close(t.recv)
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case t.recv <- msg:
		case <-t.done:
			return
		}
	}
}

// Send writes p as a single text message.
func (t *WebSocket) Send(p []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Recv returns the inbound byte stream.
func (t *WebSocket) Recv() <-chan []byte { return t.recv }

// Close sends a best-effort close frame and tears down the connection.
func (t *WebSocket) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
		err = t.conn.Close()
	})
	return err
}
