package signalr

import (
	"crypto/tls"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// webSocketConnection is the default Connection, built on
// github.com/gorilla/websocket: dial, a buffered inbound channel fed by a
// read-pump goroutine, and a Done channel closed exactly once.
type webSocketConnection struct {
	uri       string
	headers   http.Header
	tlsConfig *tls.Config

	conn *websocket.Conn

	inbound chan []byte
	done    chan struct{}
	closeMx sync.Mutex
	closed  bool
	err     error
}

// NewWebSocketConnection builds a Connection that dials uri (already
// normalized to ws:// or wss:// by the connection state machine) using
// gorilla/websocket.
func NewWebSocketConnection(uri string, headers http.Header, tlsConfig *tls.Config) Connection {
	return &webSocketConnection{
		uri:       uri,
		headers:   headers,
		tlsConfig: tlsConfig,
		inbound:   make(chan []byte, 16),
		done:      make(chan struct{}),
	}
}

func (w *webSocketConnection) Connect() error {
	dialer := *websocket.DefaultDialer
	if w.tlsConfig != nil {
		dialer.TLSClientConfig = w.tlsConfig
	}
	conn, _, err := dialer.Dial(w.uri, w.headers)
	if err != nil {
		return err
	}
	w.conn = conn
	go w.readPump()
	return nil
}

// readPump is the sole reader of the underlying connection; it forwards each
// complete WebSocket text message to Inbound and closes Done exactly once
// when the connection dies.
func (w *webSocketConnection) readPump() {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.die(err)
			return
		}
		select {
		case w.inbound <- data:
		case <-w.done:
			return
		}
	}
}

func (w *webSocketConnection) die(err error) {
	w.closeMx.Lock()
	defer w.closeMx.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.err = err
	close(w.done)
}

func (w *webSocketConnection) Send(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *webSocketConnection) Inbound() <-chan []byte {
	return w.inbound
}

func (w *webSocketConnection) Done() <-chan struct{} {
	return w.done
}

func (w *webSocketConnection) Err() error {
	w.closeMx.Lock()
	defer w.closeMx.Unlock()
	return w.err
}

func (w *webSocketConnection) Close() error {
	w.die(nil)
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
