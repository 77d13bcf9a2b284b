package qubx

import (
	"time"
)

// StreamParameters is the immutable configuration of a stream: frames per
// buffer, sample rate and interleaving width. It is shared by value into
// every component bound to the stream and cannot change without recreating
// the stream.
type StreamParameters struct {
	// Chunk is the number of frames per processing buffer.
	Chunk int
	// SampleRate in Hz.
	SampleRate int
	// Channels is the number of interleaved channels.
	Channels int
}

// DefaultStreamParameters mirror the defaults of a typical soundcard setup.
func DefaultStreamParameters() StreamParameters {
	return StreamParameters{
		Chunk:      1024,
		SampleRate: 44100,
		Channels:   1,
	}
}

// Validate checks that every parameter is positive.
func (p StreamParameters) Validate() error {
	switch {
	case p.Chunk <= 0:
		return &ConfigError{Field: "chunk", Value: p.Chunk}
	case p.SampleRate <= 0:
		return &ConfigError{Field: "sample_rate", Value: p.SampleRate}
	case p.Channels <= 0:
		return &ConfigError{Field: "channels", Value: p.Channels}
	}
	return nil
}

// BufferLen returns the length of one interleaved buffer.
func (p StreamParameters) BufferLen() int {
	return p.Chunk * p.Channels
}

// Deadline returns the real-time budget of one buffer: the duration the
// hardware takes to consume Chunk frames.
func (p StreamParameters) Deadline() time.Duration {
	return time.Duration(float64(p.Chunk) / float64(p.SampleRate) * float64(time.Second))
}
