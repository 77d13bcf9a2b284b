// Package portaudio binds the runtime to the default system audio devices
// through portaudio. Writes and reads block at the hardware cadence, which
// is what clocks the real-time stream loops.
package portaudio

import (
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/qubx-audio/qubx/device"
)

// portaudio requires one global Initialize/Terminate pair per process.
var global struct {
	sync.Mutex
	refs int
}

func acquire() error {
	global.Lock()
	defer global.Unlock()
	if global.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	global.refs++
	return nil
}

func release() error {
	global.Lock()
	defer global.Unlock()
	global.refs--
	if global.refs == 0 {
		return portaudio.Terminate()
	}
	return nil
}

// Provider opens bindings on the default input and output devices.
type Provider struct{}

// NewProvider returns a portaudio device provider.
func NewProvider() Provider { return Provider{} }

// OpenOutput implements device.Provider.
func (Provider) OpenOutput(chunk, sampleRate, channels int) (device.Writer, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	o := &Output{buf: make([]float32, chunk*channels)}
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), chunk, &o.buf)
	if err != nil {
		_ = release()
		return nil, err
	}
	if err = stream.Start(); err != nil {
		_ = stream.Close()
		_ = release()
		return nil, err
	}
	o.stream = stream
	return o, nil
}

// OpenInput implements device.Provider.
func (Provider) OpenInput(chunk, sampleRate, channels int) (device.Reader, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	i := &Input{buf: make([]float32, chunk*channels)}
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), chunk, &i.buf)
	if err != nil {
		_ = release()
		return nil, err
	}
	if err = stream.Start(); err != nil {
		_ = stream.Close()
		_ = release()
		return nil, err
	}
	i.stream = stream
	return i, nil
}

// Output writes interleaved buffers to the default output device.
type Output struct {
	stream    *portaudio.Stream
	buf       []float32
	closeOnce sync.Once
	closeErr  error
}

// Write implements device.Writer. Blocks until the hardware consumed the
// buffer.
func (o *Output) Write(buf []float64) error {
	for i := range o.buf {
		if i < len(buf) {
			o.buf[i] = float32(buf[i])
		} else {
			o.buf[i] = 0
		}
	}
	return o.stream.Write()
}

// Close stops the stream. Idempotent; wakes a blocked Write.
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		var errs []error
		if err := o.stream.Abort(); err != nil {
			errs = append(errs, err)
		}
		if err := o.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := release(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			o.closeErr = errs[0]
		}
	})
	return o.closeErr
}

// Input reads interleaved buffers from the default input device.
type Input struct {
	stream    *portaudio.Stream
	buf       []float32
	closeOnce sync.Once
	closeErr  error
}

// Read implements device.Reader. Blocks until the hardware produced the
// buffer.
func (i *Input) Read(buf []float64) error {
	if err := i.stream.Read(); err != nil {
		return err
	}
	for j := range buf {
		if j < len(i.buf) {
			buf[j] = float64(i.buf[j])
		} else {
			buf[j] = 0
		}
	}
	return nil
}

// Close stops the stream. Idempotent; wakes a blocked Read.
func (i *Input) Close() error {
	i.closeOnce.Do(func() {
		var errs []error
		if err := i.stream.Abort(); err != nil {
			errs = append(errs, err)
		}
		if err := i.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := release(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			i.closeErr = errs[0]
		}
	})
	return i.closeErr
}
