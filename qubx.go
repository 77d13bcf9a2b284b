package qubx

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/qubx-audio/qubx/device"
	"github.com/qubx-audio/qubx/log"
	"github.com/qubx-audio/qubx/monitor"
)

// DefaultCloseTimeout bounds the join of every owned thread on close.
const DefaultCloseTimeout = 2 * time.Second

// handle is a named, live entity owned by the registry.
type handle interface {
	Name() string
	Close() error
	probe() monitor.Probe
}

// Qubx is the registry and facade of the runtime. It owns the set of all
// streams and dsp processes, enforces unique naming, wires bindings and
// drives orderly startup and shutdown. The registry lock is taken only on
// topology changes and monitor sampling, never by a real-time thread.
type Qubx struct {
	logger        *logrus.Logger
	devices       device.Provider
	closeTimeout  time.Duration
	queueCap      int
	monitorPeriod time.Duration

	mu      sync.Mutex
	entries map[string]handle
	// close order: processes stop producing before their consumers stop
	processes []*DspProcess
	streams   []handle
	closed    bool

	pool    *workerPool
	monitor *monitor.Monitor
}

// Option configures a Qubx instance.
type Option func(*Qubx)

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(q *Qubx) { q.logger = logger }
}

// WithDevices sets the device binding provider. Defaults to the paced null
// provider; wire the portaudio package for real I/O.
func WithDevices(provider device.Provider) Option {
	return func(q *Qubx) { q.devices = provider }
}

// WithCloseTimeout bounds the per-handle join on close.
func WithCloseTimeout(d time.Duration) Option {
	return func(q *Qubx) { q.closeTimeout = d }
}

// WithJobQueueCapacity bounds the job queue of created dsp processes.
func WithJobQueueCapacity(n int) Option {
	return func(q *Qubx) { q.queueCap = n }
}

// WithMonitorPeriod sets the load sampling period.
func WithMonitorPeriod(d time.Duration) Option {
	return func(q *Qubx) { q.monitorPeriod = d }
}

// WithPoolSize sets the number of shared fan-out workers.
func WithPoolSize(n int) Option {
	return func(q *Qubx) { q.pool = newWorkerPool(n) }
}

// New creates the runtime with the provided options applied.
func New(options ...Option) *Qubx {
	q := &Qubx{
		closeTimeout: DefaultCloseTimeout,
		queueCap:     DefaultJobQueueCapacity,
		entries:      make(map[string]handle),
	}
	for _, option := range options {
		option(q)
	}
	if q.logger == nil {
		q.logger = log.Get()
	}
	if q.devices == nil {
		q.devices = device.NullProvider()
	}
	if q.pool == nil {
		q.pool = newWorkerPool(0)
	}
	q.monitor = monitor.New(q, q.monitorPeriod, q.logger)
	return q
}

// CreateMaster registers a new master stream-out. Fails with ConfigError
// on invalid parameters and ErrNameConflict on a duplicate name, leaving
// the registry untouched.
func (q *Qubx) CreateMaster(name string, params StreamParameters) (*MasterStream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if _, ok := q.entries[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	out, err := q.devices.OpenOutput(params.Chunk, params.SampleRate, params.Channels)
	if err != nil {
		return nil, &DeviceError{Op: "open output", Err: err}
	}
	m := newMasterStream(name, params, out, q.closeTimeout, q.logger)
	q.entries[name] = m
	q.streams = append(q.streams, m)
	q.logger.WithField("stream", name).Info("master stream-out created")
	return m, nil
}

// CreateDuplex registers a new duplex stream under a generated unique
// name. Fails with ConfigError on invalid parameters.
func (q *Qubx) CreateDuplex(params StreamParameters) (*DuplexStream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	name := "duplex-" + xid.New().String()
	in, err := q.devices.OpenInput(params.Chunk, params.SampleRate, params.Channels)
	if err != nil {
		return nil, &DeviceError{Op: "open input", Err: err}
	}
	out, err := q.devices.OpenOutput(params.Chunk, params.SampleRate, params.Channels)
	if err != nil {
		_ = in.Close()
		return nil, &DeviceError{Op: "open output", Err: err}
	}
	s := newDuplexStream(name, params, in, out, q.queueCap, q.closeTimeout, q.logger)
	q.entries[name] = s
	q.streams = append(q.streams, s)
	q.logger.WithField("stream", name).Info("duplex stream created")
	return s, nil
}

// CreateDspProcess registers a new dsp process. With parallelEnabled the
// process runs two concurrent executors and jobs may be fanned out across
// the shared pool when the policy decides so. Fails with ErrNameConflict
// on a duplicate name.
func (q *Qubx) CreateDspProcess(name string, parallelEnabled bool) (*DspProcess, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if _, ok := q.entries[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	d := newDspProcess(name, parallelEnabled, q.queueCap, q.pool, q.loadSample, q.closeTimeout, q.logger)
	q.entries[name] = d
	q.processes = append(q.processes, d)
	if parallelEnabled {
		q.logger.WithField("process", name).Info("parallel computation activated")
	}
	return d, nil
}

// Bind attaches the named dsp process to the named stream: the stream
// consumes the process's completed frames and, for a duplex stream, feeds
// its input blocks to the process. Fails with ErrUnknownTarget when either
// name is missing or of the wrong kind.
func (q *Qubx) Bind(processName, streamName string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	process, ok := q.entries[processName].(*DspProcess)
	if !ok {
		return fmt.Errorf("%w: dsp process %s", ErrUnknownTarget, processName)
	}
	switch stream := q.entries[streamName].(type) {
	case *MasterStream:
		frames, err := process.bind(streamName, stream.Params())
		if err != nil {
			return err
		}
		stream.addSource(frames)
	case *DuplexStream:
		frames, err := process.bind(streamName, stream.Params())
		if err != nil {
			return err
		}
		stream.bindProcess(process, frames)
	default:
		return fmt.Errorf("%w: stream %s", ErrUnknownTarget, streamName)
	}
	return nil
}

// StartMonitoring spawns the load monitor exactly once; subsequent calls
// are no-ops.
func (q *Qubx) StartMonitoring() {
	q.logger.Info("start monitoring processes")
	q.monitor.Start()
}

// Load returns the latest load snapshot.
func (q *Qubx) Load() monitor.LoadSample {
	return q.loadSample()
}

// loadSample serves the policy: the monitor snapshot once monitoring has
// ticked, otherwise an on-demand aggregation of the registry probes.
func (q *Qubx) loadSample() monitor.LoadSample {
	if sample := q.monitor.Load(); !sample.SampledAt.IsZero() {
		return sample
	}
	return monitor.Aggregate(q.Probes())
}

// Probes implements monitor.Registry.
func (q *Qubx) Probes() []monitor.Probe {
	q.mu.Lock()
	defer q.mu.Unlock()
	probes := make([]monitor.Probe, 0, len(q.entries))
	for _, h := range q.entries {
		probes = append(probes, h.probe())
	}
	return probes
}

// CloseAll signals shutdown to every registered handle, joins their
// threads with a bounded timeout and clears the registry. Teardown is
// best-effort: every handle is closed even when earlier ones time out, and
// the timeouts are aggregated into the returned error. Repeated calls are
// no-ops.
func (q *Qubx) CloseAll() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	processes := q.processes
	streams := q.streams
	q.processes = nil
	q.streams = nil
	q.entries = make(map[string]handle)
	q.mu.Unlock()

	q.logger.Info("closing qubx runtime")
	var errs closeErrors
	if err := q.monitor.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range processes {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	q.pool.close()
	q.logger.Info("qubx runtime closed")
	return errs.ret()
}
