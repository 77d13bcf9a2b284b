// Package device defines the boundary to the platform audio I/O. Bindings
// supply and consume raw interleaved sample buffers on the hardware's own
// cadence: a Write or Read call returns when the device has consumed or
// produced one buffer, which is what clocks the real-time loop.
package device

import "errors"

// ErrClosed is returned by a binding once it has been closed.
var ErrClosed = errors.New("device closed")

type (
	// Writer consumes one interleaved buffer per hardware period.
	Writer interface {
		// Write blocks until the device accepted the buffer.
		Write(buf []float64) error
		Close() error
	}

	// Reader produces one interleaved buffer per hardware period.
	Reader interface {
		// Read blocks until the device filled the buffer.
		Read(buf []float64) error
		Close() error
	}

	// Provider opens device bindings for a stream configuration.
	Provider interface {
		OpenOutput(chunk, sampleRate, channels int) (Writer, error)
		OpenInput(chunk, sampleRate, channels int) (Reader, error)
	}
)

// Interleave flattens per-channel slices into one interleaved buffer.
func Interleave(channels [][]float64) []float64 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	buf := make([]float64, 0, frames*len(channels))
	for i := 0; i < frames; i++ {
		for c := range channels {
			buf = append(buf, channels[c][i])
		}
	}
	return buf
}

// Deinterleave splits an interleaved buffer into per-channel slices.
func Deinterleave(buf []float64, numChannels int) [][]float64 {
	if numChannels <= 0 {
		return nil
	}
	frames := len(buf) / numChannels
	channels := make([][]float64, numChannels)
	for c := range channels {
		channels[c] = make([]float64, frames)
		for i := 0; i < frames; i++ {
			channels[c][i] = buf[i*numChannels+c]
		}
	}
	return channels
}
