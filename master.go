package qubx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qubx-audio/qubx/device"
	"github.com/qubx-audio/qubx/monitor"
)

// StreamStats is a diagnostics snapshot of one stream.
type StreamStats struct {
	Callbacks        uint64
	Underruns        uint64
	Overruns         uint64
	PatchFailures    uint64
	MeanCallbackTime time.Duration
}

// MasterStream is an output-only real-time pipeline. It owns a device
// output binding and one real-time goroutine clocked by the device: each
// callback mixes the frames ready on the queues of its bound dsp
// processes, applies the synchronous patch when one is attached and writes
// the result to the device. The callback never allocates, never takes a
// lock and never waits on a worker; a missing frame becomes silence and an
// underrun count.
type MasterStream struct {
	name   string
	params StreamParameters
	out    device.Writer
	log    logrus.FieldLogger

	patch   Patch
	sources atomic.Pointer[[]<-chan []float64]
	srcMu   sync.Mutex

	callbacks     atomic.Uint64
	underruns     atomic.Uint64
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

func newMasterStream(name string, params StreamParameters, out device.Writer, closeTimeout time.Duration, log logrus.FieldLogger) *MasterStream {
	m := &MasterStream{
		name:         name,
		params:       params,
		out:          out,
		log:          log,
		closeTimeout: closeTimeout,
		done:         make(chan struct{}),
		joined:       make(chan struct{}),
	}
	empty := make([]<-chan []float64, 0)
	m.sources.Store(&empty)
	return m
}

// Name returns the registry name of the stream.
func (m *MasterStream) Name() string { return m.name }

// Params returns the stream configuration.
func (m *MasterStream) Params() StreamParameters { return m.params }

// Start spawns the real-time thread. The patch, when not nil, is invoked
// synchronously on every callback against the mixed block; with no bound
// process it transforms the last written buffer in place. Starting twice
// fails with ErrAlreadyStarted.
func (m *MasterStream) Start(patch Patch) error {
	select {
	case <-m.done:
		return fmt.Errorf("master stream %s: %w", m.name, ErrClosed)
	default:
	}
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("master stream %s: %w", m.name, ErrAlreadyStarted)
	}
	m.patch = patch
	m.log.WithFields(logrus.Fields{
		"stream":      m.name,
		"chunk":       m.params.Chunk,
		"sample_rate": m.params.SampleRate,
		"channels":    m.params.Channels,
	}).Info("starting master stream-out")
	go m.run()
	return nil
}

// addSource registers the completed-frame queue of a bound dsp process.
// The source list is swapped atomically so the callback loop reads it
// without locking.
func (m *MasterStream) addSource(src <-chan []float64) {
	m.srcMu.Lock()
	defer m.srcMu.Unlock()
	old := *m.sources.Load()
	next := make([]<-chan []float64, len(old), len(old)+1)
	copy(next, old)
	next = append(next, src)
	m.sources.Store(&next)
}

func (m *MasterStream) run() {
	defer close(m.joined)
	buf := make([]float64, m.params.BufferLen())
	mix := make([]float64, m.params.BufferLen())
	for {
		select {
		case <-m.done:
			return
		default:
		}
		start := time.Now()
		if sources := *m.sources.Load(); len(sources) > 0 {
			if ready := mixSources(sources, mix); ready > 0 {
				copy(buf, mix)
			} else {
				// processing missed the deadline: substitute silence
				m.underruns.Add(1)
				zero(buf)
			}
		}
		if m.patch != nil {
			if err := applyInPlace(m.patch, buf); err != nil {
				m.patchFailures.Add(1)
				m.underruns.Add(1)
				zero(buf)
			}
		}
		m.procNs.Add(time.Since(start).Nanoseconds())
		m.callbacks.Add(1)
		if err := m.out.Write(buf); err != nil {
			select {
			case <-m.done:
			default:
				m.setErr(&DeviceError{Op: "write", Err: err})
			}
			return
		}
	}
}

// mixSources sums one ready frame of every source into mix, non-blocking.
// Returns the number of sources that had a frame ready.
func mixSources(sources []<-chan []float64, mix []float64) int {
	zero(mix)
	ready := 0
	for _, src := range sources {
		select {
		case f := <-src:
			n := len(f)
			if n > len(mix) {
				n = len(mix)
			}
			for i := 0; i < n; i++ {
				mix[i] += f[i]
			}
			ready++
		default:
		}
	}
	return ready
}

// applyInPlace invokes an in-place patch, converting a panic into an error.
func applyInPlace(patch Patch, buf []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch panic: %v", r)
		}
	}()
	return patch.Process(buf)
}

func zero(buf []float64) {
	for i := range buf {
		buf[i] = 0
	}
}

func (m *MasterStream) setErr(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if m.runErr == nil {
		m.runErr = err
	}
	m.log.WithField("stream", m.name).WithError(err).Error("master stream stopped")
}

// Err returns the error that terminated the real-time thread, if any.
func (m *MasterStream) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.runErr
}

// Stats returns a diagnostics snapshot.
func (m *MasterStream) Stats() StreamStats {
	s := StreamStats{
		Callbacks:     m.callbacks.Load(),
		Underruns:     m.underruns.Load(),
		PatchFailures: m.patchFailures.Load(),
	}
	if s.Callbacks > 0 {
		s.MeanCallbackTime = time.Duration(m.procNs.Load() / int64(s.Callbacks))
	}
	return s
}

func (m *MasterStream) probe() monitor.Probe {
	p := monitor.Probe{Active: m.started.Load()}
	if callbacks := m.callbacks.Load(); callbacks > 0 {
		p.MeanProcessingTime = time.Duration(m.procNs.Load() / int64(callbacks))
		p.MeanBlockSamples = m.params.BufferLen()
	}
	return p
}

// Close signals shutdown, wakes the device binding and joins the real-time
// thread with a bounded wait. Idempotent. Must never be called from within
// this stream's own callback: the join would deadlock.
func (m *MasterStream) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		var errs closeErrors
		if err := m.out.Close(); err != nil {
			errs = append(errs, &DeviceError{Op: "close", Err: err})
		}
		if m.started.Load() {
			select {
			case <-m.joined:
			case <-time.After(m.closeTimeout):
				errs = append(errs, fmt.Errorf("master stream %s: %w", m.name, ErrShutdownTimeout))
			}
		}
		m.closeErr = errs.ret()
		m.log.WithField("stream", m.name).Info("master stream closed")
	})
	return m.closeErr
}
