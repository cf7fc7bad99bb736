package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/codefionn/greyhound/internal/logger"
)

// State represents the current state of a Connection
type State int

const (
	// StateUnconnected indicates no link is established
	StateUnconnected State = iota
	// StateConnecting indicates a link is being dialed
	StateConnecting
	// StateOpen indicates the link is usable
	StateOpen
	// StateClosed indicates the connection has been closed for good
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReplyHandler receives the reply to a command, or the error that
// prevented it from arriving.
type ReplyHandler func(Reply, error)

// ProgressFunc observes a binary transfer after every chunk.
type ProgressFunc func(sofar, left int64)

// DoneFunc receives the assembled payload of a binary transfer.
type DoneFunc func(data []byte, err error)

var errLinkLost = errors.New("link lost")

// link is one established (or establishing) transport.
type link struct {
	id        string
	ready     chan struct{}
	err       error
	transport Transport

	// guarded by Connection.mu
	torn  bool
	cause error
}

type transfer struct {
	buf        []byte
	offset     int64
	remaining  int64
	onProgress ProgressFunc
	onDone     DoneFunc
}

// Option configures a Connection.
type Option func(*Connection)

// WithDialer replaces the default websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithConfig sets connection tuning knobs.
func WithConfig(cfg *Config) Option {
	return func(c *Connection) {
		if cfg != nil {
			c.cfg = cfg
		}
	}
}

// WithLogger sets the logger; the global logger is used otherwise.
func WithLogger(l *logger.Logger) Option {
	return func(c *Connection) {
		c.log = l
	}
}

// Connection multiplexes commands, replies and binary transfers over one
// lazily dialed transport.
type Connection struct {
	addr   Address
	cfg    *Config
	dialer Dialer
	log    *logger.Logger

	mu       sync.Mutex
	state    State
	link     *link
	handlers map[string]ReplyHandler
	xfer     *transfer
	done     chan struct{}
}

// NewConnection creates an unconnected Connection; nothing is dialed until
// the first Send.
func NewConnection(addr Address, opts ...Option) *Connection {
	c := &Connection{
		addr:     addr,
		cfg:      DefaultConfig(),
		handlers: make(map[string]ReplyHandler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = WebSocketDialer{
			WriteTimeout:   c.cfg.WriteTimeout,
			MaxMessageSize: c.cfg.MaxMessageSize,
		}
	}
	return c
}

// Addr returns the server address.
func (c *Connection) Addr() Address { return c.addr }

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the id of the current link, or "" when there is none.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return ""
	}
	return c.link.id
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Send registers handler for cmd's reply and writes cmd. Errors that occur
// before the handler is registered are returned; afterwards every outcome
// is delivered to the handler exactly once.
func (c *Connection) Send(ctx context.Context, cmd Command, handler ReplyHandler) error {
	if cmd == nil {
		return ErrMissingCommand
	}
	name := cmd.CommandName()
	if name == "" {
		return ErrMissingCommand
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if handler == nil {
		handler = func(Reply, error) {}
	}

	l, err := c.acquire(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.link != l || l.torn {
		cause := l.cause
		c.mu.Unlock()
		if cause == nil {
			cause = errLinkLost
		}
		return &ConnectionError{Op: "send", Addr: c.addr.String(), Err: cause}
	}
	prev := c.handlers[name]
	c.handlers[name] = handler
	c.mu.Unlock()

	if prev != nil {
		c.debugf(l, "handler for %q superseded", name)
		prev(Reply{Command: name}, ErrSuperseded)
	}

	c.debugf(l, "-> %s", name)
	if err := l.transport.WriteFrame(Frame{Type: TextFrame, Data: data}); err != nil {
		c.fail(l, &ConnectionError{Op: "write", Addr: c.addr.String(), Err: err})
	}
	return nil
}

// Do sends cmd and waits for its reply. It must not be called from a
// reply handler.
func (c *Connection) Do(ctx context.Context, cmd Command) (Reply, error) {
	type result struct {
		reply Reply
		err   error
	}
	ch := make(chan result, 1)
	err := c.Send(ctx, cmd, func(r Reply, err error) {
		ch <- result{reply: r, err: err}
	})
	if err != nil {
		return Reply{}, err
	}

	select {
	case res := <-ch:
		return res.reply, res.err
	case <-c.done:
		return Reply{}, ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// ReceiveBinary arms the transfer slot for the next count payload bytes.
// Call it from a reply handler so the slot is armed before the next frame
// is read. A non-positive count completes at once with an empty payload.
func (c *Connection) ReceiveBinary(count int64, onProgress ProgressFunc, onDone DoneFunc) error {
	if onDone == nil {
		return fmt.Errorf("%w: nil completion callback", ErrInvalidArgument)
	}
	if count <= 0 {
		onDone([]byte{}, nil)
		return nil
	}
	if limit := c.cfg.MaxPayloadSize; limit > 0 && count > limit {
		return fmt.Errorf("%w: %d bytes announced, limit is %d", ErrPayloadTooLarge, count, limit)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateClosed:
		return ErrClosed
	case c.state != StateOpen || c.link == nil:
		return ErrNotConnected
	case c.xfer != nil:
		return ErrTransferActive
	}
	c.xfer = &transfer{
		buf:        make([]byte, count),
		remaining:  count,
		onProgress: onProgress,
		onDone:     onDone,
	}
	return nil
}

// Close tears down the link. Pending handlers and an active transfer are
// abandoned; blocked Do callers return ErrClosed. Close is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	l := c.link
	c.link = nil
	c.handlers = make(map[string]ReplyHandler)
	c.xfer = nil
	close(c.done)

	var t Transport
	if l != nil {
		l.torn = true
		t = l.transport
	}
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	c.debugf(l, "closing")
	return t.Close()
}

// acquire returns the open link, dialing one if needed. Concurrent callers
// share the same dial. A done ctx never yields a link.
func (c *Connection) acquire(ctx context.Context) (*link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	l := c.link
	if l == nil {
		l = &link{id: uuid.NewString(), ready: make(chan struct{})}
		c.link = l
		c.state = StateConnecting
		go c.establish(l)
	}
	c.mu.Unlock()

	select {
	case <-l.ready:
		if l.err != nil {
			return nil, l.err
		}
		// select picks at random when ctx ended too
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return l, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) establish(l *link) {
	ctx := context.Background()
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	c.debugf(l, "dialing %s", c.addr.URL())
	t, err := c.dialer.Dial(ctx, c.addr)

	c.mu.Lock()
	if err != nil {
		l.err = &ConnectionError{Op: "dial", Addr: c.addr.String(), Err: err}
		l.torn = true
		if c.link == l {
			c.link = nil
			c.state = StateUnconnected
		}
		c.mu.Unlock()
		c.warnf(l, "dial failed: %v", err)
		close(l.ready)
		return
	}
	if c.state == StateClosed || c.link != l {
		l.err = ErrClosed
		l.torn = true
		c.mu.Unlock()
		_ = t.Close()
		close(l.ready)
		return
	}
	l.transport = t
	c.state = StateOpen
	c.mu.Unlock()

	c.debugf(l, "open")
	close(l.ready)
	go c.readLoop(l)
}

func (c *Connection) readLoop(l *link) {
	for {
		f, err := l.transport.ReadFrame()
		if err != nil {
			c.teardown(l, &ConnectionError{Op: "read", Addr: c.addr.String(), Err: err})
			return
		}
		if f.Type == BinaryFrame {
			c.dispatchBinary(l, f.Data)
		} else {
			c.dispatchText(l, f.Data)
		}
	}
}

func (c *Connection) dispatchText(l *link, data []byte) {
	reply, err := parseReply(data)
	if err != nil {
		c.warnf(l, "undecodable reply: %v", err)
		return
	}
	if reply.Command == "" {
		c.debugf(l, "reply without command ignored")
		return
	}

	c.mu.Lock()
	h, ok := c.handlers[reply.Command]
	if ok {
		delete(c.handlers, reply.Command)
	}
	c.mu.Unlock()

	if !ok {
		c.debugf(l, "no handler for %q", reply.Command)
		return
	}
	c.debugf(l, "<- %s status=%d", reply.Command, reply.Status)
	h(reply, reply.err())
}

func (c *Connection) dispatchBinary(l *link, data []byte) {
	c.mu.Lock()
	x := c.xfer
	if x == nil {
		c.mu.Unlock()
		c.debugf(l, "dropping %d byte binary frame, no transfer armed", len(data))
		return
	}

	surplus := int64(len(data)) - x.remaining
	if surplus > 0 {
		data = data[:x.remaining]
	}
	copy(x.buf[x.offset:], data)
	x.offset += int64(len(data))
	x.remaining -= int64(len(data))
	finished := x.remaining <= 0
	if finished {
		c.xfer = nil
	}
	sofar, left := x.offset, x.remaining
	c.mu.Unlock()

	if surplus > 0 {
		c.warnf(l, "binary frame overran transfer, %d surplus bytes dropped", surplus)
	}
	if x.onProgress != nil {
		x.onProgress(sofar, left)
	}
	if finished {
		x.onDone(x.buf, nil)
	}
}

// fail records cause and closes the transport; the read loop then tears
// the link down.
func (c *Connection) fail(l *link, cause error) {
	c.mu.Lock()
	if l.cause == nil {
		l.cause = cause
	}
	c.mu.Unlock()
	_ = l.transport.Close()
}

func (c *Connection) teardown(l *link, err error) {
	c.mu.Lock()
	if l.cause != nil {
		err = l.cause
	}
	if l.torn {
		c.mu.Unlock()
		return
	}
	l.torn = true
	if c.link == l {
		c.link = nil
	}
	c.state = StateUnconnected
	handlers := c.handlers
	c.handlers = make(map[string]ReplyHandler)
	x := c.xfer
	c.xfer = nil
	c.mu.Unlock()

	_ = l.transport.Close()
	c.warnf(l, "link lost: %v", err)

	for name, h := range handlers {
		h(Reply{Command: name}, err)
	}
	if x != nil {
		x.onDone(nil, err)
	}
}

func (c *Connection) logger() *logger.Logger {
	if c.log != nil {
		return c.log
	}
	return logger.Global()
}

func (c *Connection) debugf(l *link, format string, args ...interface{}) {
	c.logger().Debug("[protocol] conn=%s "+format, append([]interface{}{l.id}, args...)...)
}

func (c *Connection) warnf(l *link, format string, args ...interface{}) {
	c.logger().Warn("[protocol] conn=%s "+format, append([]interface{}{l.id}, args...)...)
}
