// Package readqueue serializes reads against one session so that at most
// one is in flight at a time.
package readqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/greyhound/internal/logger"
	"github.com/codefionn/greyhound/internal/protocol"
	"github.com/codefionn/greyhound/internal/reader"
	"github.com/codefionn/greyhound/internal/schema"
)

var (
	ErrInvalidArgument = protocol.ErrInvalidArgument
	ErrQueueFlushed    = errors.New("readqueue: queue flushed")
)

// Reader performs one blocking read. *reader.Client implements it.
type Reader interface {
	ReadSync(ctx context.Context, sessionID string, opts reader.ReadOptions) (*reader.ReadResult, error)
}

// Callback receives the outcome of a queued read.
type Callback func(*reader.ReadResult, error)

type entry struct {
	opts reader.ReadOptions
	cb   Callback
}

// Option configures a Queue.
type Option func(*Queue)

// WithContext bounds every read issued by the queue. Once ctx ends no
// further read starts; queued ones fail with ErrQueueFlushed.
func WithContext(ctx context.Context) Option {
	return func(q *Queue) {
		if ctx != nil {
			q.ctx = ctx
		}
	}
}

// WithLogger sets the logger; the global logger is used otherwise.
func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Queue runs queued reads one after another in FIFO order.
type Queue struct {
	r       Reader
	session string
	schema  schema.Schema
	ctx     context.Context
	log     *logger.Logger

	mu      sync.Mutex
	backlog []entry
	running bool
	next    *time.Timer
}

// New creates an idle queue for sessionID. Reads without a schema use s,
// or the standard schema when s is empty.
func New(r Reader, sessionID string, s schema.Schema, opts ...Option) (*Queue, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: need reader", ErrInvalidArgument)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: need session id", ErrInvalidArgument)
	}
	if s.IsEmpty() {
		s = schema.Standard()
	}

	q := &Queue{
		r:       r,
		session: sessionID,
		schema:  s,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Session returns the session the queue reads from.
func (q *Queue) Session() string { return q.session }

// Enqueue appends a read. Processing starts if the queue is idle. cb runs
// on the queue's worker goroutine and may be nil.
func (q *Queue) Enqueue(opts reader.ReadOptions, cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.backlog = append(q.backlog, entry{opts: opts, cb: cb})
	if !q.running {
		q.running = true
		q.next = time.AfterFunc(0, q.step)
	}
}

// Len returns the number of reads not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Flush drops every read not yet started; their callbacks receive
// ErrQueueFlushed. A read in flight is not cancelled.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.next != nil {
		if q.next.Stop() {
			q.running = false
		}
		q.next = nil
	}
	pending := q.backlog
	q.backlog = nil
	q.mu.Unlock()

	if len(pending) > 0 {
		q.logger().Debug("[readqueue] session=%s flushed %d reads", q.session, len(pending))
	}
	for _, e := range pending {
		if e.cb != nil {
			e.cb(nil, ErrQueueFlushed)
		}
	}
}

func (q *Queue) step() {
	q.mu.Lock()
	q.next = nil
	if len(q.backlog) == 0 {
		q.running = false
		q.mu.Unlock()
		return
	}
	if q.ctx.Err() != nil {
		// nothing may start once the context has ended
		pending := q.backlog
		q.backlog = nil
		q.running = false
		q.mu.Unlock()

		err := fmt.Errorf("%w: %w", ErrQueueFlushed, context.Cause(q.ctx))
		q.logger().Debug("[readqueue] session=%s dropped %d reads: %v", q.session, len(pending), err)
		for _, e := range pending {
			if e.cb != nil {
				e.cb(nil, err)
			}
		}
		return
	}
	e := q.backlog[0]
	q.backlog[0] = entry{}
	q.backlog = q.backlog[1:]
	q.mu.Unlock()

	opts := e.opts
	if opts.Schema.IsEmpty() {
		opts.Schema = q.schema
	}
	res, err := q.r.ReadSync(q.ctx, q.session, opts)
	if err != nil {
		q.logger().Debug("[readqueue] session=%s read failed: %v", q.session, err)
	}

	q.mu.Lock()
	q.next = time.AfterFunc(0, q.step)
	q.mu.Unlock()

	if e.cb != nil {
		e.cb(res, err)
	}
}

func (q *Queue) logger() *logger.Logger {
	if q.log != nil {
		return q.log
	}
	return logger.Global()
}
