package progress

import "fmt"

// Kind identifies the lifecycle stage of a read.
type Kind int

const (
	// Begin is emitted once the server has announced the payload size.
	Begin Kind = iota
	// Read is emitted for every binary chunk received.
	Read
	// End is emitted after the last byte has arrived.
	End
)

func (k Kind) String() string {
	switch k {
	case Begin:
		return "begin"
	case Read:
		return "read"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// Event describes a read's progress. Begin carries the announced totals,
// Read carries the running byte counters, End carries nothing extra.
type Event struct {
	Kind Kind
	// NumPoints and NumBytes are set on Begin.
	NumPoints int64
	NumBytes  int64
	// SoFar and Left are set on Read.
	SoFar int64
	Left  int64
}

func (e Event) String() string {
	switch e.Kind {
	case Begin:
		return fmt.Sprintf("begin points=%d bytes=%d", e.NumPoints, e.NumBytes)
	case Read:
		return fmt.Sprintf("read sofar=%d left=%d", e.SoFar, e.Left)
	default:
		return e.Kind.String()
	}
}

// Fraction is the completed share of a Read event, in [0,1].
func (e Event) Fraction() float64 {
	total := e.SoFar + e.Left
	if e.Kind != Read || total <= 0 {
		return 0
	}
	if e.Left <= 0 {
		return 1
	}
	return float64(e.SoFar) / float64(total)
}

// Callback receives progress events. It runs on the connection's read
// loop and must not block.
type Callback func(Event)

// Dispatch sends the event if the callback is set.
func Dispatch(cb Callback, ev Event) {
	if cb == nil {
		return
	}
	cb(ev)
}

// Chain fans one event out to several callbacks in order; nil entries are
// skipped.
func Chain(cbs ...Callback) Callback {
	return func(ev Event) {
		for _, cb := range cbs {
			Dispatch(cb, ev)
		}
	}
}
