package protocol

import "encoding/json"

// StatusOK is the reply status of a successful command.
const StatusOK = 1

// Command is an outbound envelope. Implementations marshal to a JSON
// object whose "command" field equals CommandName.
type Command interface {
	CommandName() string
}

// Header carries the command name; embed it in request structs so the
// "command" field is flattened into the envelope.
type Header struct {
	Command string `json:"command"`
}

func (h Header) CommandName() string { return h.Command }

// Fields is an ad hoc command envelope.
type Fields map[string]any

func (f Fields) CommandName() string {
	name, _ := f["command"].(string)
	return name
}

// Reply is an inbound control frame.
type Reply struct {
	Command string `json:"command"`
	Status  int    `json:"status"`
	Reason  string `json:"reason,omitempty"`

	raw json.RawMessage
}

// OK reports whether the reply signals success.
func (r Reply) OK() bool { return r.Status == StatusOK }

// Decode unmarshals the full reply object into v.
func (r Reply) Decode(v any) error {
	if len(r.raw) == 0 {
		return json.Unmarshal([]byte(`{}`), v)
	}
	return json.Unmarshal(r.raw, v)
}

// Raw returns the reply as received.
func (r Reply) Raw() json.RawMessage { return r.raw }

func parseReply(data []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return Reply{}, err
	}
	r.raw = append(json.RawMessage(nil), data...)
	return r, nil
}

func (r Reply) err() error {
	if r.OK() {
		return nil
	}
	reason := r.Reason
	if reason == "" {
		reason = unknownReason
	}
	return &CommandError{Command: r.Command, Status: r.Status, Reason: reason}
}
