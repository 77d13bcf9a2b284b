package qubx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qubx-audio/qubx/internal/frame"
	"github.com/qubx-audio/qubx/internal/order"
	"github.com/qubx-audio/qubx/monitor"
	"github.com/qubx-audio/qubx/policy"
)

// DefaultJobQueueCapacity bounds a dsp process job queue when no capacity
// option is set.
const DefaultJobQueueCapacity = 64

// outQueueCapacity bounds the completed-frame queue between a dsp process
// and its consuming stream.
const outQueueCapacity = 32

// minGrace is the floor of the partition join deadline, so very small
// stream buffers do not make every parallel job time out.
const minGrace = 20 * time.Millisecond

// dspJob carries one accepted dispatch through the scheduling core.
type dspJob struct {
	seq   uint64
	data  []float64
	patch BlockPatch
}

// DspStats is a diagnostics snapshot of one dsp process.
type DspStats struct {
	Jobs               uint64
	Failures           uint64
	Overruns           uint64
	QueueDepth         int
	MeanProcessingTime time.Duration
}

// DspProcess is a named, queue-fed processing stage. Work is dispatched
// with a data block and a patch; accepted jobs are processed serially or,
// when the policy decides so, fanned out across the shared worker pool,
// and the results are published to the bound stream strictly in submission
// order.
type DspProcess struct {
	name     string
	parallel bool
	log      logrus.FieldLogger

	pool *workerPool
	load func() monitor.LoadSample

	jobs chan dspJob
	out  chan []float64

	// bound topology, written once under mu before bound flips true.
	mu     sync.Mutex
	target string
	params StreamParameters
	pol    *policy.Policy
	pub    *order.Publisher
	grace  time.Duration
	bound  atomic.Bool

	dispatchMu sync.Mutex
	next       uint64

	standing atomic.Pointer[BlockPatch]

	jobsDone atomic.Uint64
	failures atomic.Uint64
	overruns atomic.Uint64
	procNs   atomic.Int64
	blockSum atomic.Int64

	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
	done         chan struct{}
	joined       chan struct{}
	running      atomic.Bool
}

func newDspProcess(name string, parallel bool, queueCap int, pool *workerPool, load func() monitor.LoadSample, closeTimeout time.Duration, log logrus.FieldLogger) *DspProcess {
	if queueCap <= 0 {
		queueCap = DefaultJobQueueCapacity
	}
	return &DspProcess{
		name:         name,
		parallel:     parallel,
		log:          log,
		pool:         pool,
		load:         load,
		jobs:         make(chan dspJob, queueCap),
		closeTimeout: closeTimeout,
		done:         make(chan struct{}),
		joined:       make(chan struct{}),
	}
}

// Name returns the registry name of the process.
func (d *DspProcess) Name() string { return d.name }

// Target returns the name of the bound stream, empty when unbound.
func (d *DspProcess) Target() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// SetPatch installs the standing patch applied to jobs dispatched without
// one, including input blocks pushed by a bound duplex stream. A nil
// standing patch passes blocks through unchanged.
func (d *DspProcess) SetPatch(patch BlockPatch) {
	if patch == nil {
		d.standing.Store(nil)
		return
	}
	d.standing.Store(&patch)
}

// bind attaches the process to the named stream and starts its executors.
// Returns the completed-frame queue the stream consumes from.
func (d *DspProcess) bind(target string, params StreamParameters) (<-chan []float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.done:
		return nil, fmt.Errorf("dsp process %s: %w", d.name, ErrClosed)
	default:
	}
	if d.bound.Load() {
		return nil, fmt.Errorf("dsp process %s already bound to %s: %w", d.name, d.target, ErrNameConflict)
	}
	d.target = target
	d.params = params
	d.out = make(chan []float64, outQueueCapacity)
	d.pol = policy.New(policy.Config{Deadline: params.Deadline()})
	d.pub = order.New(d.emit)
	d.grace = 4 * params.Deadline()
	if d.grace < minGrace {
		d.grace = minGrace
	}

	executors := 1
	if d.parallel {
		executors = 2
	}
	var wg sync.WaitGroup
	wg.Add(executors)
	for i := 0; i < executors; i++ {
		go func() {
			defer wg.Done()
			d.execute()
		}()
	}
	go func() {
		wg.Wait()
		close(d.joined)
	}()
	d.running.Store(true)
	d.bound.Store(true)
	d.log.WithFields(logrus.Fields{
		"process":   d.name,
		"target":    target,
		"parallel":  d.parallel,
		"executors": executors,
	}).Info("dsp process bound")
	return d.out, nil
}

// Dispatch submits a data block with a patch for processing. A nil patch
// falls back to the standing patch; with neither, the block passes through
// unchanged. Fails with ErrUnknownTarget when the process is not bound and
// with ErrBackpressure when the job queue is full; a rejected job has no
// side effects and the caller decides whether to retry or drop.
func (d *DspProcess) Dispatch(data []float64, patch BlockPatch) error {
	if !d.bound.Load() {
		return fmt.Errorf("dsp process %s is not bound: %w", d.name, ErrUnknownTarget)
	}
	select {
	case <-d.done:
		return fmt.Errorf("dsp process %s: %w", d.name, ErrClosed)
	default:
	}
	// sequence numbers are allocated only on acceptance, so a rejected
	// job never leaves a hole in the publish order.
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()
	select {
	case d.jobs <- dspJob{seq: d.next, data: data, patch: patch}:
		d.next++
		return nil
	default:
		return ErrBackpressure
	}
}

// QueueDepth returns the number of pending jobs.
func (d *DspProcess) QueueDepth() int { return len(d.jobs) }

// Stats returns a diagnostics snapshot.
func (d *DspProcess) Stats() DspStats {
	s := DspStats{
		Jobs:       d.jobsDone.Load(),
		Failures:   d.failures.Load(),
		Overruns:   d.overruns.Load(),
		QueueDepth: len(d.jobs),
	}
	if s.Jobs > 0 {
		s.MeanProcessingTime = time.Duration(d.procNs.Load() / int64(s.Jobs))
	}
	return s
}

func (d *DspProcess) probe() monitor.Probe {
	p := monitor.Probe{
		Active:     d.running.Load(),
		QueueDepth: len(d.jobs),
	}
	if jobs := d.jobsDone.Load(); jobs > 0 {
		p.MeanProcessingTime = time.Duration(d.procNs.Load() / int64(jobs))
		p.MeanBlockSamples = int(d.blockSum.Load() / int64(jobs))
	}
	return p
}

// execute is the worker loop: pull the next job, process it serially or
// fanned out per the policy decision, and hand the result to the ordered
// publisher. A failed job is skipped, surfaced downstream as a missed
// buffer, never as a fatal error.
func (d *DspProcess) execute() {
	for {
		select {
		case <-d.done:
			return
		case job := <-d.jobs:
			start := time.Now()
			block, err := d.process(job)
			d.procNs.Add(time.Since(start).Nanoseconds())
			d.blockSum.Add(int64(len(job.data)))
			d.jobsDone.Add(1)
			if err != nil {
				d.failures.Add(1)
				d.pub.Skip(job.seq)
				d.log.WithFields(logrus.Fields{
					"process": d.name,
					"seq":     job.seq,
				}).WithError(err).Debug("job failed")
				continue
			}
			d.pub.Publish(job.seq, block)
		}
	}
}

func (d *DspProcess) process(job dspJob) ([]float64, error) {
	patch := job.patch
	if patch == nil {
		if p := d.standing.Load(); p != nil {
			patch = *p
		}
	}
	if patch == nil {
		// bare audio data passes through to the stream unchanged
		return job.data, nil
	}
	decision := d.pol.Decide(d.load(), len(job.data))
	if !decision.Parallel() {
		return applyPatch(patch, job.data)
	}
	return d.fanOut(patch, job.data, decision.Workers)
}

// fanOut partitions the block across the worker pool and joins the results
// within the grace deadline. The patch must be a pure function of its
// input partition; results are concatenated back in partition order.
func (d *DspProcess) fanOut(patch BlockPatch, data []float64, workers int) ([]float64, error) {
	spans := frame.Partition(len(data), workers)
	type part struct {
		i   int
		out []float64
		err error
	}
	results := make(chan part, len(spans))
	for i, span := range spans {
		i, span := i, span
		task := func() {
			out, err := applyPatch(patch, data[span.Lo:span.Hi])
			results <- part{i: i, out: out, err: err}
		}
		if !d.pool.trySubmit(task) {
			// saturated pool: degrade to inline execution
			task()
		}
	}
	parts := make([][]float64, len(spans))
	timer := time.NewTimer(d.grace)
	defer timer.Stop()
	for n := 0; n < len(spans); n++ {
		select {
		case p := <-results:
			if p.err != nil {
				return nil, p.err
			}
			parts[p.i] = p.out
		case <-timer.C:
			return nil, fmt.Errorf("dsp process %s: partition join exceeded grace %v", d.name, d.grace)
		}
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]float64, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// applyPatch invokes the patch, converting a panic into an error so one
// bad buffer cannot take the worker down.
func applyPatch(patch BlockPatch, in []float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch panic: %v", r)
		}
	}()
	return patch.ProcessBlock(in)
}

// emit chops a published block into stream-sized frames and pushes them to
// the output queue without blocking: a full queue drops the frame and
// counts an overrun, the consuming stream is never stalled from this side.
func (d *DspProcess) emit(block []float64) {
	for _, f := range frame.Chop(block, d.params.BufferLen()) {
		select {
		case d.out <- f:
		default:
			d.overruns.Add(1)
		}
	}
}

// Close signals shutdown and joins the executors with a bounded wait.
// Idempotent. Must not be called from a patch invocation of this process.
func (d *DspProcess) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		if d.running.Load() {
			select {
			case <-d.joined:
			case <-time.After(d.closeTimeout):
				d.closeErr = fmt.Errorf("dsp process %s: %w", d.name, ErrShutdownTimeout)
			}
		}
		d.running.Store(false)
		d.log.WithField("process", d.name).Info("dsp process closed")
	})
	return d.closeErr
}
