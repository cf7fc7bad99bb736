package protocol

import "time"

// Config holds connection tuning knobs
type Config struct {
	// ConnectTimeout bounds the websocket handshake
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration
	// MaxMessageSize limits a single inbound frame; zero means unlimited
	MaxMessageSize int64
	// MaxPayloadSize limits the size announced for a binary transfer
	MaxPayloadSize int64
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 << 20,
		MaxPayloadSize: 4 << 30,
	}
}
