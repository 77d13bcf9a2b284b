// Package frame holds the slice math shared by the dsp scheduling core:
// chopping processed blocks into stream-sized frames and partitioning a
// block across workers.
package frame

// Chop splits data into frames of size samples. The tail frame is padded
// with zeros so every frame has the exact stream buffer length.
func Chop(data []float64, size int) [][]float64 {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	n := (len(data) + size - 1) / size
	frames := make([][]float64, 0, n)
	for lo := 0; lo < len(data); lo += size {
		f := make([]float64, size)
		copy(f, data[lo:min(lo+size, len(data))])
		frames = append(frames, f)
	}
	return frames
}

// Span is a contiguous sub-range of a block.
type Span struct {
	Lo, Hi int
}

// Len returns the number of samples covered by the span.
func (s Span) Len() int { return s.Hi - s.Lo }

// Partition splits a block of n samples into parts contiguous spans with
// sizes as equal as possible. The remainder goes to the last partition.
// When parts exceeds n, only n single-sample spans are returned.
func Partition(n, parts int) []Span {
	if n <= 0 || parts <= 0 {
		return nil
	}
	if parts > n {
		parts = n
	}
	base := n / parts
	spans := make([]Span, parts)
	lo := 0
	for i := range spans {
		hi := lo + base
		if i == parts-1 {
			hi = n
		}
		spans[i] = Span{Lo: lo, Hi: hi}
		lo = hi
	}
	return spans
}
