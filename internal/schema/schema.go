// Package schema describes the ordered channel layout of the binary point
// records returned by a read.
//
//	s := schema.New().X().Y().Red()                          // X, Y and Red channels
//	s := schema.New().X().Y(schema.As(schema.Unsigned), schema.Bytes(8)).Red()
//
// Channel order is significant: it defines the record layout.
package schema

import "encoding/json"

// Type is the storage class of a channel.
type Type string

const (
	Floating Type = "floating"
	Unsigned Type = "unsigned"
	Signed   Type = "signed"
)

// Channel is one dimension of a point record.
type Channel struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
	Size int    `json:"size"`
}

// Option overrides the default type or size of a channel.
type Option func(*Channel)

// As overrides a channel's type.
func As(t Type) Option {
	return func(c *Channel) {
		if t != "" {
			c.Type = t
		}
	}
}

// Bytes overrides a channel's size in bytes.
func Bytes(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.Size = n
		}
	}
}

// Schema is an ordered list of channels. Builder methods never modify the
// receiver; they return a copy with one more channel.
type Schema struct {
	channels []Channel
}

func New() Schema {
	return Schema{}
}

// Standard returns X, Y, Z, Intensity, Red, Green and Blue with default
// types and sizes.
func Standard() Schema {
	return New().X().Y().Z().Intensity().Red().Green().Blue()
}

// XYZ returns a schema with only the position channels.
func XYZ() Schema {
	return New().X().Y().Z()
}

// Add appends an arbitrary channel.
func (s Schema) Add(name string, t Type, size int) Schema {
	return s.with(Channel{Name: name, Type: t, Size: size})
}

func (s Schema) X(opts ...Option) Schema         { return s.push("X", Floating, 4, opts) }
func (s Schema) Y(opts ...Option) Schema         { return s.push("Y", Floating, 4, opts) }
func (s Schema) Z(opts ...Option) Schema         { return s.push("Z", Floating, 4, opts) }
func (s Schema) Intensity(opts ...Option) Schema { return s.push("Intensity", Unsigned, 2, opts) }
func (s Schema) Red(opts ...Option) Schema       { return s.push("Red", Unsigned, 2, opts) }
func (s Schema) Green(opts ...Option) Schema     { return s.push("Green", Unsigned, 2, opts) }
func (s Schema) Blue(opts ...Option) Schema      { return s.push("Blue", Unsigned, 2, opts) }

// Channels returns a copy of the channel list.
func (s Schema) Channels() []Channel {
	return append([]Channel(nil), s.channels...)
}

func (s Schema) Len() int { return len(s.channels) }

// IsEmpty reports whether no channel was added.
func (s Schema) IsEmpty() bool { return len(s.channels) == 0 }

// PointSize is the size in bytes of one record.
func (s Schema) PointSize() int {
	n := 0
	for _, c := range s.channels {
		n += c.Size
	}
	return n
}

type wireSchema struct {
	Dimensions []Channel `json:"dimensions"`
}

// MarshalJSON encodes the schema as {"dimensions": [...]}.
func (s Schema) MarshalJSON() ([]byte, error) {
	dims := s.channels
	if dims == nil {
		dims = []Channel{}
	}
	return json.Marshal(wireSchema{Dimensions: dims})
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var w wireSchema
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.channels = w.Dimensions
	return nil
}

func (s Schema) push(name string, t Type, size int, opts []Option) Schema {
	c := Channel{Name: name, Type: t, Size: size}
	for _, opt := range opts {
		opt(&c)
	}
	return s.with(c)
}

func (s Schema) with(c Channel) Schema {
	channels := make([]Channel, len(s.channels), len(s.channels)+1)
	copy(channels, s.channels)
	return Schema{channels: append(channels, c)}
}
