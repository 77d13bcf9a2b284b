// Package dsp provides a few stateless transforms usable as patch bodies.
// The full numeric toolkit lives outside the runtime; these cover examples
// and tests without pulling it in.
package dsp

import (
	"math"

	"github.com/qubx-audio/qubx"
)

// Gain returns an in-place patch scaling every sample by g.
func Gain(g float64) qubx.PatchFunc {
	return func(buf []float64) error {
		for i := range buf {
			buf[i] *= g
		}
		return nil
	}
}

// Scale returns a block patch mapping every sample to sample*g.
func Scale(g float64) qubx.BlockPatchFunc {
	return func(in []float64) ([]float64, error) {
		out := make([]float64, len(in))
		for i := range in {
			out[i] = in[i] * g
		}
		return out, nil
	}
}

// Passthrough returns a duplex patch copying input to output unchanged.
func Passthrough() qubx.StreamPatchFunc {
	return func(in []float64) ([]float64, error) {
		out := make([]float64, len(in))
		copy(out, in)
		return out, nil
	}
}

// Mix sums blocks elementwise into a new block of the longest length.
func Mix(blocks ...[]float64) []float64 {
	size := 0
	for _, b := range blocks {
		if len(b) > size {
			size = len(b)
		}
	}
	out := make([]float64, size)
	for _, b := range blocks {
		for i, s := range b {
			out[i] += s
		}
	}
	return out
}

// SineTable generates n samples of a sine at freq Hz for the given sample
// rate, amplitude 1.
func SineTable(freq float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		out[i] = math.Sin(step * float64(i))
	}
	return out
}
