package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsPingInterval     = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// WebSocketTransport opens duplex links over a plain websocket carrying one
// JSON frame per text message.
type WebSocketTransport struct {
	// URL is the full websocket URL (e.g. "ws://host:5567/ws").
	URL string
	// Header carries optional handshake headers (e.g. a bearer token).
	Header http.Header
	// Log receives transport-level events.
	Log zerolog.Logger
}

// Open dials the websocket asynchronously and reports through ev. The
// returned link aborts the attempt (or closes the connection) on Close.
func (t *WebSocketTransport) Open(ev Events) (Link, error) {
	l := &wsLink{log: t.Log, done: make(chan struct{})}

	go func() {
		dialer := &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
		conn, _, err := dialer.Dial(t.URL, t.Header)
		if err != nil {
			t.Log.Debug().Err(err).Str("url", t.URL).Msg("websocket dial failed")
			if ev.Closed != nil {
				ev.Closed(err)
			}
			return
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.conn = conn
		l.mu.Unlock()

		if ev.Opened != nil {
			ev.Opened()
		}
		go l.pingLoop(conn)
		l.readLoop(conn, ev)
	}()

	return l, nil
}

type wsLink struct {
	log     zerolog.Logger
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex
	done    chan struct{}
}

func (l *wsLink) Send(data []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrLinkClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	close(l.done)
	l.mu.Unlock()

	if conn != nil {
		l.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

func (l *wsLink) readLoop(conn *websocket.Conn, ev Events) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			locallyClosed := l.closed
			l.mu.Unlock()

			if ev.Closed != nil {
				if locallyClosed {
					ev.Closed(nil)
				} else {
					ev.Closed(err)
				}
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if ev.Frame != nil {
			ev.Frame(data)
		}
	}
}

func (l *wsLink) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			l.writeMu.Unlock()
			if err != nil {
				l.log.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}
