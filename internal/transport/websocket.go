package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// MaxMessageSize caps one inbound control message
const MaxMessageSize = 1 << 20

const _defaultHandshakeTimeout = 10 * time.Second

// ErrClosed is returned by Read after the peer closed the connection normally
var ErrClosed = errors.New("connection closed")

// Conn is one open control connection. Read and Write may be used from different goroutines.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
	Close() error
}

// Dialer opens control connections
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials websocket control connections
type WSDialer struct {
	logger           *zap.Logger
	handshakeTimeout time.Duration
}

// NewDialer creates a websocket dialer with a bounded handshake
func NewDialer(logger *zap.Logger) *WSDialer {
	return &WSDialer{
		logger:           logger,
		handshakeTimeout: _defaultHandshakeTimeout,
	}
}

// Dial opens the control connection at url
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	c, resp, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.SetReadLimit(MaxMessageSize)

	d.logger.Debug("websocket connected")
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, msg []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, msg)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
