package reader

import (
	"context"
	"fmt"
	"sync"

	"github.com/codefionn/greyhound/internal/bbox"
	"github.com/codefionn/greyhound/internal/progress"
	"github.com/codefionn/greyhound/internal/protocol"
	"github.com/codefionn/greyhound/internal/schema"
)

// ReadOptions selects what a read returns. The zero value reads every
// point with the standard schema.
type ReadOptions struct {
	// Schema defaults to schema.Standard() when empty.
	Schema schema.Schema
	// BBox limits the read to a region; only X and Y are sent.
	BBox *bbox.Box
	// DepthBegin and DepthEnd bound the index depth; zero means unset.
	DepthBegin int
	DepthEnd   int
	// Progress observes Begin, every Read chunk, then End. It runs on the
	// connection's read loop.
	Progress progress.Callback
}

// ReadResult is a completed read.
type ReadResult struct {
	NumPoints int64
	NumBytes  int64
	Data      []byte
}

type readRequest struct {
	protocol.Header
	Session    string        `json:"session"`
	Schema     schema.Schema `json:"schema"`
	BBox       []float64     `json:"bbox,omitempty"`
	DepthBegin int           `json:"depthBegin,omitempty"`
	DepthEnd   int           `json:"depthEnd,omitempty"`
}

type readReply struct {
	NumPoints int64 `json:"numPoints"`
	NumBytes  int64 `json:"numBytes"`
}

// ReadOperation is a read in progress.
type ReadOperation struct {
	done   chan struct{}
	closed <-chan struct{}
	once   sync.Once
	result *ReadResult
	err    error
}

func newReadOperation(closed <-chan struct{}) *ReadOperation {
	return &ReadOperation{done: make(chan struct{}), closed: closed}
}

func (op *ReadOperation) finish(res *ReadResult, err error) {
	op.once.Do(func() {
		op.result, op.err = res, err
		close(op.done)
	})
}

// Done is closed when the read has completed or failed.
func (op *ReadOperation) Done() <-chan struct{} { return op.done }

// Wait blocks until the read completes, the client is closed or ctx ends.
func (op *ReadOperation) Wait(ctx context.Context) (*ReadResult, error) {
	select {
	case <-op.done:
		return op.result, op.err
	default:
	}

	select {
	case <-op.done:
		return op.result, op.err
	case <-op.closed:
		return nil, protocol.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a completed read, or ErrReadPending.
func (op *ReadOperation) Result() (*ReadResult, error) {
	select {
	case <-op.done:
		return op.result, op.err
	default:
		return nil, ErrReadPending
	}
}

// Read sends a read command and returns once it is on the wire. The
// payload is delivered through the returned operation; progress through
// opts.Progress.
//
// A *protocol.ConnectionError can arrive on either path: dial failures and
// a done ctx are returned here, a link lost after the command was written
// is reported by the operation.
func (c *Client) Read(ctx context.Context, sessionID string, opts ReadOptions) (*ReadOperation, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: need session id", ErrInvalidArgument)
	}
	if opts.DepthBegin < 0 || opts.DepthEnd < 0 {
		return nil, fmt.Errorf("%w: negative depth", ErrInvalidArgument)
	}

	req := readRequest{
		Header:     protocol.Header{Command: "read"},
		Session:    sessionID,
		Schema:     opts.Schema,
		DepthBegin: opts.DepthBegin,
		DepthEnd:   opts.DepthEnd,
	}
	if req.Schema.IsEmpty() {
		req.Schema = schema.Standard()
	}
	if opts.BBox != nil {
		planar := opts.BBox.Planar()
		req.BBox = planar[:]
	}

	op := newReadOperation(c.conn.Done())
	cb := opts.Progress
	err := c.conn.Send(ctx, req, func(reply protocol.Reply, err error) {
		if err != nil {
			op.finish(nil, err)
			return
		}

		var hdr readReply
		if err := reply.Decode(&hdr); err != nil {
			op.finish(nil, fmt.Errorf("decode read reply: %w", err))
			return
		}
		progress.Dispatch(cb, progress.Event{
			Kind:      progress.Begin,
			NumPoints: hdr.NumPoints,
			NumBytes:  hdr.NumBytes,
		})

		err = c.conn.ReceiveBinary(hdr.NumBytes,
			func(sofar, left int64) {
				progress.Dispatch(cb, progress.Event{Kind: progress.Read, SoFar: sofar, Left: left})
			},
			func(data []byte, err error) {
				if err != nil {
					op.finish(nil, err)
					return
				}
				progress.Dispatch(cb, progress.Event{Kind: progress.End})
				op.finish(&ReadResult{
					NumPoints: hdr.NumPoints,
					NumBytes:  int64(len(data)),
					Data:      data,
				}, nil)
			})
		if err != nil {
			op.finish(nil, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// ReadSync reads and waits for the result.
func (c *Client) ReadSync(ctx context.Context, sessionID string, opts ReadOptions) (*ReadResult, error) {
	op, err := c.Read(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}
