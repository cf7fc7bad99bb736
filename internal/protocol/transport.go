package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FrameType distinguishes control frames from payload frames.
type FrameType int

const (
	TextFrame FrameType = iota
	BinaryFrame
)

func (t FrameType) String() string {
	if t == BinaryFrame {
		return "binary"
	}
	return "text"
}

// Frame is one message of the underlying stream.
type Frame struct {
	Type FrameType
	Data []byte
}

// Transport is an ordered, message-oriented, bidirectional stream.
// ReadFrame is only called from one goroutine; WriteFrame may be called
// concurrently with ReadFrame; Close may be called at any time and more
// than once.
type Transport interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, addr Address) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr Address) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, addr Address) (Transport, error) {
	return f(ctx, addr)
}

// WebSocketDialer dials ws://host:port/ with gorilla/websocket.
type WebSocketDialer struct {
	// WriteTimeout bounds each frame write; zero disables the deadline.
	WriteTimeout time.Duration
	// MaxMessageSize limits inbound frames; zero means unlimited.
	MaxMessageSize int64
}

func (d WebSocketDialer) Dial(ctx context.Context, addr Address) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  16 * 1024,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.HandshakeTimeout = time.Until(deadline)
	}

	conn, _, err := dialer.DialContext(ctx, addr.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr.URL(), err)
	}
	if d.MaxMessageSize > 0 {
		conn.SetReadLimit(d.MaxMessageSize)
	}
	return &wsTransport{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) ReadFrame() (Frame, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		switch mt {
		case websocket.TextMessage:
			return Frame{Type: TextFrame, Data: data}, nil
		case websocket.BinaryMessage:
			return Frame{Type: BinaryFrame, Data: data}, nil
		}
	}
}

func (t *wsTransport) WriteFrame(f Frame) error {
	mt := websocket.TextMessage
	if f.Type == BinaryFrame {
		mt = websocket.BinaryMessage
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(mt, f.Data)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		// best effort; the peer may already be gone
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
