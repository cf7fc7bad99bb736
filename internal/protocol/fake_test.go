package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport driven by the test as the server.
type fakeTransport struct {
	in       chan Frame
	writes   chan Frame
	closed   chan struct{}
	once     sync.Once
	writeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan Frame, 64),
		writes: make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() (Frame, error) {
	select {
	case fr := <-f.in:
		return fr, nil
	case <-f.closed:
		return Frame{}, io.EOF
	}
}

func (f *fakeTransport) WriteFrame(fr Frame) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	select {
	case <-f.closed:
		return errors.New("write on closed transport")
	default:
	}
	f.writes <- fr
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) replyJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.in <- Frame{Type: TextFrame, Data: data}
}

func (f *fakeTransport) binary(data []byte) {
	f.in <- Frame{Type: BinaryFrame, Data: data}
}

// nextWrite returns the next command written by the client, decoded.
func (f *fakeTransport) nextWrite(t *testing.T) map[string]any {
	t.Helper()
	select {
	case fr := <-f.writes:
		require.Equal(t, TextFrame, fr.Type)
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr.Data, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a command")
		return nil
	}
}

// fakeDialer hands out a fresh fakeTransport per dial.
type fakeDialer struct {
	mu      sync.Mutex
	dials   atomic.Int32
	links   []*fakeTransport
	fail    error
	gate    chan struct{}
	dialled chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialled: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ Address) (Transport, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.fail != nil {
		return nil, d.fail
	}
	ft := newFakeTransport()
	d.mu.Lock()
	d.links = append(d.links, ft)
	d.mu.Unlock()
	d.dialled <- ft
	return ft, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

func newTestConnection(t *testing.T, opts ...Option) (*Connection, *fakeDialer) {
	t.Helper()
	d := newFakeDialer()
	addr, err := ParseAddress("localhost:9822")
	require.NoError(t, err)
	c := NewConnection(addr, append([]Option{WithDialer(d)}, opts...)...)
	t.Cleanup(func() { _ = c.Close() })
	return c, d
}

type replyResult struct {
	reply Reply
	err   error
}

func collect(ch chan replyResult) ReplyHandler {
	return func(r Reply, err error) {
		ch <- replyResult{reply: r, err: err}
	}
}

func waitReply(t *testing.T, ch chan replyResult) replyResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return replyResult{}
	}
}
