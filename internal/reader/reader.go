// Package reader issues session commands against a point-cloud server:
// create a session for a pipeline, read points from it, fetch its
// statistics and destroy it.
//
// A Client owns one protocol.Connection. Only one read may be in flight
// per Client; serialize reads with package readqueue or give every worker
// its own Client.
package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefionn/greyhound/internal/logger"
	"github.com/codefionn/greyhound/internal/protocol"
	"github.com/codefionn/greyhound/internal/stats"
)

var (
	ErrInvalidArgument = protocol.ErrInvalidArgument
	ErrMissingSession  = errors.New("reader: create reply carries no session")
	ErrReadPending     = errors.New("reader: read still in progress")
)

// Option configures a Client.
type Option func(*options)

type options struct {
	conn []protocol.Option
	log  *logger.Logger
}

// WithDialer replaces the websocket dialer.
func WithDialer(d protocol.Dialer) Option {
	return func(o *options) { o.conn = append(o.conn, protocol.WithDialer(d)) }
}

// WithConfig sets connection timeouts and limits.
func WithConfig(cfg *protocol.Config) Option {
	return func(o *options) { o.conn = append(o.conn, protocol.WithConfig(cfg)) }
}

// WithLogger sets the logger used by the client and its connection.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
		o.conn = append(o.conn, protocol.WithLogger(l))
	}
}

// Client talks to one server over one connection.
type Client struct {
	conn *protocol.Connection
	log  *logger.Logger
}

// New validates host ("host" or "host:port", no scheme) and returns an
// unconnected Client.
func New(host string, opts ...Option) (*Client, error) {
	addr, err := protocol.ParseAddress(host)
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		conn: protocol.NewConnection(addr, o.conn...),
		log:  o.log,
	}, nil
}

// Host returns the server host name.
func (c *Client) Host() string { return c.conn.Addr().Host }

// Port returns the server port.
func (c *Client) Port() int { return c.conn.Addr().Port }

// Connection exposes the underlying connection.
func (c *Client) Connection() *protocol.Connection { return c.conn }

type createRequest struct {
	protocol.Header
	PipelineID string `json:"pipelineId"`
}

type sessionRequest struct {
	protocol.Header
	Session string `json:"session"`
}

// CreateSession opens a session on the pipeline and returns its id.
func (c *Client) CreateSession(ctx context.Context, pipelineID string) (string, error) {
	if pipelineID == "" {
		return "", fmt.Errorf("%w: need pipeline id", ErrInvalidArgument)
	}

	reply, err := c.conn.Do(ctx, createRequest{
		Header:     protocol.Header{Command: "create"},
		PipelineID: pipelineID,
	})
	if err != nil {
		return "", err
	}

	var body struct {
		Session string `json:"session"`
	}
	if err := reply.Decode(&body); err != nil {
		return "", fmt.Errorf("decode create reply: %w", err)
	}
	if body.Session == "" {
		return "", ErrMissingSession
	}
	c.logger().Debug("[reader] session %s created for pipeline %s", body.Session, pipelineID)
	return body.Session, nil
}

// GetStats fetches the statistics of a session.
func (c *Client) GetStats(ctx context.Context, sessionID string) (*stats.Stats, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: need session id", ErrInvalidArgument)
	}

	reply, err := c.conn.Do(ctx, sessionRequest{
		Header:  protocol.Header{Command: "stats"},
		Session: sessionID,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Stats string `json:"stats"`
	}
	if err := reply.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode stats reply: %w", err)
	}
	return stats.FromPipelineDocument([]byte(body.Stats))
}

// Destroy releases a session on the server.
func (c *Client) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: need session id", ErrInvalidArgument)
	}

	_, err := c.conn.Do(ctx, sessionRequest{
		Header:  protocol.Header{Command: "destroy"},
		Session: sessionID,
	})
	if err != nil {
		return err
	}
	c.logger().Debug("[reader] session %s destroyed", sessionID)
	return nil
}

// Close closes the connection. Reads in flight never complete; waiting on
// them returns protocol.ErrClosed.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) logger() *logger.Logger {
	if c.log != nil {
		return c.log
	}
	return logger.Global()
}
