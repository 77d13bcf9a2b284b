// Package mock provides test doubles for the runtime: gated device
// bindings that let a test drive callbacks one by one, and deterministic
// patches.
package mock

import (
	"sync"

	"github.com/qubx-audio/qubx/device"
)

// Writer is a device.Writer recording every written buffer. With a gate
// attached, Write blocks until the test ticks, which makes callback
// cadence fully deterministic.
type Writer struct {
	mu      sync.Mutex
	buffers [][]float64

	gate      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewWriter returns an ungated writer: Write returns immediately.
func NewWriter() *Writer {
	return &Writer{closed: make(chan struct{})}
}

// NewGatedWriter returns a writer whose Write blocks until Tick is called.
func NewGatedWriter() *Writer {
	return &Writer{
		gate:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Tick releases exactly one pending or future Write.
func (w *Writer) Tick() {
	select {
	case w.gate <- struct{}{}:
	case <-w.closed:
	}
}

// Write implements device.Writer.
func (w *Writer) Write(buf []float64) error {
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-w.closed:
			return device.ErrClosed
		}
	} else {
		select {
		case <-w.closed:
			return device.ErrClosed
		default:
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	c := make([]float64, len(buf))
	copy(c, buf)
	w.buffers = append(w.buffers, c)
	return nil
}

// Buffers returns a copy of every buffer written so far.
func (w *Writer) Buffers() [][]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]float64, len(w.buffers))
	copy(out, w.buffers)
	return out
}

// Close implements device.Writer and wakes any blocked Write.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

// Reader is a device.Reader serving queued frames and silence once they
// run out. With a gate attached, Read blocks until the test ticks.
type Reader struct {
	mu     sync.Mutex
	frames [][]float64
	idx    int

	gate      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewReader returns an ungated reader serving frames in order.
func NewReader(frames ...[]float64) *Reader {
	return &Reader{frames: frames, closed: make(chan struct{})}
}

// NewGatedReader returns a reader whose Read blocks until Tick is called.
func NewGatedReader(frames ...[]float64) *Reader {
	return &Reader{
		frames: frames,
		gate:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Tick releases exactly one pending or future Read.
func (r *Reader) Tick() {
	select {
	case r.gate <- struct{}{}:
	case <-r.closed:
	}
}

// Read implements device.Reader.
func (r *Reader) Read(buf []float64) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-r.closed:
			return device.ErrClosed
		}
	} else {
		select {
		case <-r.closed:
			return device.ErrClosed
		default:
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range buf {
		buf[i] = 0
	}
	if r.idx < len(r.frames) {
		copy(buf, r.frames[r.idx])
		r.idx++
	}
	return nil
}

// Close implements device.Reader and wakes any blocked Read.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

// Provider is a device.Provider handing out premade bindings, falling back
// to fresh ungated ones.
type Provider struct {
	mu      sync.Mutex
	writers []*Writer
	readers []*Reader
}

// AddWriter queues a writer to be returned by the next OpenOutput.
func (p *Provider) AddWriter(w *Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writers = append(p.writers, w)
}

// AddReader queues a reader to be returned by the next OpenInput.
func (p *Provider) AddReader(r *Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers = append(p.readers, r)
}

// OpenOutput implements device.Provider.
func (p *Provider) OpenOutput(chunk, sampleRate, channels int) (device.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writers) > 0 {
		w := p.writers[0]
		p.writers = p.writers[1:]
		return w, nil
	}
	return NewWriter(), nil
}

// OpenInput implements device.Provider.
func (p *Provider) OpenInput(chunk, sampleRate, channels int) (device.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.readers) > 0 {
		r := p.readers[0]
		p.readers = p.readers[1:]
		return r, nil
	}
	return NewReader(), nil
}
