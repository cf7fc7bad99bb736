// Package protocol implements the client side of the point-cloud server
// wire protocol: JSON command/reply envelopes interleaved with raw binary
// payload frames on a single ordered connection.
//
// # Framing
//
// Every outbound frame is a JSON object carrying a "command" field. Every
// inbound text frame is a reply echoing that command name together with a
// "status" (1 means success) and an optional "reason". Inbound binary
// frames carry no header at all: they belong to the single binary
// transfer currently armed on the connection, in stream order.
//
// # Dispatch
//
// A Connection owns one Transport and one read loop goroutine. Reply
// handlers are keyed by command name and fire exactly once. Registering a
// second handler for a name that is still pending replaces the first one;
// the replaced handler is called with ErrSuperseded.
//
// Binary payloads are received by calling ReceiveBinary from inside a reply
// handler. Handlers run on the read loop, so the transfer is armed before
// the next frame is read and no chunk can be missed:
//
//	conn.Send(ctx, req, func(reply protocol.Reply, err error) {
//	    if err != nil {
//	        return
//	    }
//	    conn.ReceiveBinary(size, onProgress, onDone)
//	})
//
// Handlers, progress callbacks and transfer completions must not block:
// no other frame is processed while they run.
//
// # Lifecycle
//
// The link is dialed lazily by the first Send and shared by every caller
// waiting on it. A transport failure tears the link down and fails every
// pending handler and the active transfer with a *ConnectionError; the next
// Send dials a fresh link. Close is terminal and abandons outstanding work.
package protocol
