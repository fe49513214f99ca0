package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 32 << 20
)

// WebSocketPort carries protocol messages over a websocket connection. A
// connection has exactly one remote end, so every inbound envelope is
// stamped with the peer ID fixed at construction.
type WebSocketPort struct {
	conn   *websocket.Conn
	id     string
	peer   string
	box    *mailbox
	logger *zap.Logger

	writeMu sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

// NewWebSocketPort starts the reader and keepalive goroutines for conn
func NewWebSocketPort(conn *websocket.Conn, id, peer string, logger *zap.Logger) *WebSocketPort {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WebSocketPort{
		conn:   conn,
		id:     id,
		peer:   peer,
		box:    newMailbox(),
		logger: logger,
		stop:   make(chan struct{}),
	}

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go p.readLoop()
	go p.pingLoop()
	return p
}

// DialWebSocket connects to a remote sandbox endpoint
func DialWebSocket(ctx context.Context, url, id, peer string, logger *zap.Logger) (*WebSocketPort, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketPort(conn, id, peer, logger), nil
}

// ID returns the local endpoint name
func (p *WebSocketPort) ID() string { return p.id }

// Peer returns the remote endpoint name
func (p *WebSocketPort) Peer() string { return p.peer }

// Post writes one text frame
func (p *WebSocketPort) Post(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.box.closed() {
		return ErrPortClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetWriteDeadline(deadline)
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the inbound channel
func (p *WebSocketPort) Receive() <-chan Envelope { return p.box.out }

// Close sends a close frame and tears the connection down
func (p *WebSocketPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		p.writeMu.Unlock()
		err = p.conn.Close()
		p.box.close()
	})
	return err
}

// Done is closed when the connection ends
func (p *WebSocketPort) Done() <-chan struct{} { return p.box.done }

func (p *WebSocketPort) readLoop() {
	defer p.Close()
	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("WebSocket read failed", zap.String("peer", p.peer), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := p.box.push(Envelope{Source: p.peer, Data: data}); err != nil {
			return
		}
	}
}

func (p *WebSocketPort) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-p.stop:
			return
		}
	}
}
