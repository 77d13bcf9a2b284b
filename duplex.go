package qubx

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qubx-audio/qubx/device"
	"github.com/qubx-audio/qubx/monitor"
)

// duplexBinding couples the dsp process fed by the input side with the
// completed-frame queue drained on the output side. Swapped atomically so
// the callback loop reads it without locking.
type duplexBinding struct {
	process *DspProcess
	frames  <-chan []float64
}

// DuplexStream is a full input-processing-output real-time pipeline. Each
// callback reads one input buffer; a synchronous patch transforms it and
// the result is written immediately, while a bound dsp process receives
// the input as a new job and, independently, the oldest completed frame is
// popped for output. Input and output are pipelined with a bounded one-job
// latency, never coupled into one blocking round trip.
type DuplexStream struct {
	name   string
	params StreamParameters
	in     device.Reader
	out    device.Writer
	log    logrus.FieldLogger

	patch   StreamPatch
	binding atomic.Pointer[duplexBinding]

	// jobBufs is a preallocated rotation of input copies handed to the
	// bound process, sized so a buffer is never reused while a job that
	// references it can still be in flight.
	jobBufs [][]float64
	jobIdx  int

	callbacks     atomic.Uint64
	underruns     atomic.Uint64
	overruns      atomic.Uint64
	patchFailures atomic.Uint64
	procNs        atomic.Int64

	errMu  sync.Mutex
	runErr error

	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
	started      atomic.Bool
	done         chan struct{}
	joined       chan struct{}
}

func newDuplexStream(name string, params StreamParameters, in device.Reader, out device.Writer, queueCap int, closeTimeout time.Duration, log logrus.FieldLogger) *DuplexStream {
	if queueCap <= 0 {
		queueCap = DefaultJobQueueCapacity
	}
	jobBufs := make([][]float64, queueCap+4)
	for i := range jobBufs {
		jobBufs[i] = make([]float64, params.BufferLen())
	}
	return &DuplexStream{
		name:         name,
		params:       params,
		in:           in,
		out:          out,
		log:          log,
		jobBufs:      jobBufs,
		closeTimeout: closeTimeout,
		done:         make(chan struct{}),
		joined:       make(chan struct{}),
	}
}

// Name returns the registry name of the stream.
func (s *DuplexStream) Name() string { return s.name }

// Params returns the stream configuration.
func (s *DuplexStream) Params() StreamParameters { return s.params }

// Start spawns the real-time thread. The patch, when not nil, transforms
// every input buffer synchronously and must return a buffer of the same
// length. With a nil patch and no bound process the input passes through
// to the output unchanged.
func (s *DuplexStream) Start(patch StreamPatch) error {
	select {
	case <-s.done:
		return fmt.Errorf("duplex stream %s: %w", s.name, ErrClosed)
	default:
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("duplex stream %s: %w", s.name, ErrAlreadyStarted)
	}
	s.patch = patch
	s.log.WithFields(logrus.Fields{
		"stream":      s.name,
		"chunk":       s.params.Chunk,
		"sample_rate": s.params.SampleRate,
		"channels":    s.params.Channels,
	}).Info("starting duplex stream")
	go s.run()
	return nil
}

// bindProcess attaches a dsp process fed by the input side.
func (s *DuplexStream) bindProcess(process *DspProcess, frames <-chan []float64) {
	s.binding.Store(&duplexBinding{process: process, frames: frames})
}

func (s *DuplexStream) run() {
	defer close(s.joined)
	inBuf := make([]float64, s.params.BufferLen())
	outBuf := make([]float64, s.params.BufferLen())
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.in.Read(inBuf); err != nil {
			s.stop(&DeviceError{Op: "read", Err: err})
			return
		}
		start := time.Now()
		s.processCallback(inBuf, outBuf)
		s.procNs.Add(time.Since(start).Nanoseconds())
		s.callbacks.Add(1)
		if err := s.out.Write(outBuf); err != nil {
			s.stop(&DeviceError{Op: "write", Err: err})
			return
		}
	}
}

func (s *DuplexStream) processCallback(inBuf, outBuf []float64) {
	switch {
	case s.patch != nil:
		res, err := applyStream(s.patch, inBuf)
		if err == nil && len(res) != len(outBuf) {
			err = fmt.Errorf("patch returned %d samples, want %d", len(res), len(outBuf))
		}
		if err != nil {
			s.patchFailures.Add(1)
			s.underruns.Add(1)
			zero(outBuf)
			return
		}
		copy(outBuf, res)
	case s.binding.Load() != nil:
		b := s.binding.Load()
		// push the input as a new job, non-blocking
		job := s.jobBufs[s.jobIdx]
		s.jobIdx = (s.jobIdx + 1) % len(s.jobBufs)
		copy(job, inBuf)
		if err := b.process.Dispatch(job, nil); err != nil {
			if errors.Is(err, ErrBackpressure) {
				s.overruns.Add(1)
			}
		}
		// independently pop the oldest completed frame
		select {
		case f := <-b.frames:
			copy(outBuf, f)
		default:
			s.underruns.Add(1)
			zero(outBuf)
		}
	default:
		copy(outBuf, inBuf)
	}
}

// applyStream invokes a duplex patch, converting a panic into an error.
func applyStream(patch StreamPatch, in []float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch panic: %v", r)
		}
	}()
	return patch.ProcessStream(in)
}

func (s *DuplexStream) stop(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.errMu.Lock()
	if s.runErr == nil {
		s.runErr = err
	}
	s.errMu.Unlock()
	s.log.WithField("stream", s.name).WithError(err).Error("duplex stream stopped")
}

// Err returns the error that terminated the real-time thread, if any.
func (s *DuplexStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.runErr
}

// Stats returns a diagnostics snapshot.
func (s *DuplexStream) Stats() StreamStats {
	st := StreamStats{
		Callbacks:     s.callbacks.Load(),
		Underruns:     s.underruns.Load(),
		Overruns:      s.overruns.Load(),
		PatchFailures: s.patchFailures.Load(),
	}
	if st.Callbacks > 0 {
		st.MeanCallbackTime = time.Duration(s.procNs.Load() / int64(st.Callbacks))
	}
	return st
}

func (s *DuplexStream) probe() monitor.Probe {
	p := monitor.Probe{Active: s.started.Load()}
	if callbacks := s.callbacks.Load(); callbacks > 0 {
		p.MeanProcessingTime = time.Duration(s.procNs.Load() / int64(callbacks))
		p.MeanBlockSamples = s.params.BufferLen()
	}
	return p
}

// Close signals shutdown, wakes the device bindings and joins the
// real-time thread with a bounded wait. Idempotent. Must never be called
// from within this stream's own callback.
func (s *DuplexStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		var errs closeErrors
		if err := s.in.Close(); err != nil {
			errs = append(errs, &DeviceError{Op: "close input", Err: err})
		}
		if err := s.out.Close(); err != nil {
			errs = append(errs, &DeviceError{Op: "close output", Err: err})
		}
		if s.started.Load() {
			select {
			case <-s.joined:
			case <-time.After(s.closeTimeout):
				errs = append(errs, fmt.Errorf("duplex stream %s: %w", s.name, ErrShutdownTimeout))
			}
		}
		s.closeErr = errs.ret()
		s.log.WithField("stream", s.name).Info("duplex stream closed")
	})
	return s.closeErr
}
