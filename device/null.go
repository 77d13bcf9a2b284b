package device

import (
	"sync"
	"time"
)

// NullProvider returns a provider of null bindings: output is discarded
// and input reads silence, both paced at the hardware cadence the
// configuration implies. Useful on machines without a soundcard and as
// the default when no real binding is wired.
func NullProvider() Provider {
	return nullProvider{}
}

type nullProvider struct{}

func (nullProvider) OpenOutput(chunk, sampleRate, channels int) (Writer, error) {
	return &nullBinding{period: period(chunk, sampleRate)}, nil
}

func (nullProvider) OpenInput(chunk, sampleRate, channels int) (Reader, error) {
	return &nullBinding{period: period(chunk, sampleRate)}, nil
}

func period(chunk, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(chunk) / float64(sampleRate) * float64(time.Second))
}

// nullBinding discards writes and reads silence at buffer cadence. Close
// wakes a blocked call immediately.
type nullBinding struct {
	period    time.Duration
	closeOnce sync.Once
	closed    chan struct{}
	initOnce  sync.Once
}

func (b *nullBinding) init() {
	b.initOnce.Do(func() { b.closed = make(chan struct{}) })
}

func (b *nullBinding) wait() error {
	b.init()
	select {
	case <-b.closed:
		return ErrClosed
	case <-time.After(b.period):
		return nil
	}
}

func (b *nullBinding) Write(buf []float64) error {
	return b.wait()
}

func (b *nullBinding) Read(buf []float64) error {
	if err := b.wait(); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (b *nullBinding) Close() error {
	b.init()
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}
