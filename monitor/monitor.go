// Package monitor samples the load of a running qubx registry on a fixed
// period, independent of the audio deadline, and publishes the latest
// snapshot through an atomic swap. It never touches the real-time path:
// consumers read the last published LoadSample without blocking the
// monitor or the workers.
package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
)

// DefaultPeriod is the sampling period used when none is configured.
const DefaultPeriod = 100 * time.Millisecond

type (
	// Probe reports the recent load of a single registered process.
	Probe struct {
		// Active is true while the process owns a live worker.
		Active bool
		// MeanProcessingTime is the mean wall time of recent jobs.
		MeanProcessingTime time.Duration
		// QueueDepth is the current number of pending jobs.
		QueueDepth int
		// MeanBlockSamples is the mean size of recently processed blocks.
		MeanBlockSamples int
	}

	// Registry exposes the probes of every registered process. Implemented
	// by the qubx facade; walked under the topology lock, never from a
	// real-time thread.
	Registry interface {
		Probes() []Probe
	}

	// LoadSample is a snapshot of the aggregated load. Written only by the
	// monitor, read-only to consumers.
	LoadSample struct {
		// ActiveProcesses is the number of processes with a live worker.
		ActiveProcesses int
		// MeanProcessingTime is the mean job wall time across processes.
		MeanProcessingTime time.Duration
		// QueueDepth is the total number of pending jobs.
		QueueDepth int
		// MeanBlockSamples is the mean processed block size across
		// processes, used to scale time estimates to other block sizes.
		MeanBlockSamples int
		// CPUPercent is the host CPU utilization.
		CPUPercent float64
		// SampledAt is the wall time of the snapshot.
		SampledAt time.Time
	}

	// Monitor periodically aggregates registry probes into a LoadSample.
	Monitor struct {
		registry Registry
		period   time.Duration
		log      logrus.FieldLogger

		snapshot atomic.Pointer[LoadSample]

		startOnce sync.Once
		closeOnce sync.Once
		started   atomic.Bool
		done      chan struct{}
		joined    chan struct{}
	}
)

// New returns a monitor over the registry. A non-positive period falls
// back to DefaultPeriod.
func New(registry Registry, period time.Duration, log logrus.FieldLogger) *Monitor {
	if period <= 0 {
		period = DefaultPeriod
	}
	m := &Monitor{
		registry: registry,
		period:   period,
		log:      log,
		done:     make(chan struct{}),
		joined:   make(chan struct{}),
	}
	m.snapshot.Store(&LoadSample{})
	return m
}

// Start spawns the sampling goroutine exactly once. Subsequent calls are
// no-ops.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.run()
	})
}

func (m *Monitor) run() {
	defer close(m.joined)
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			sample := m.sample()
			m.snapshot.Store(&sample)
			if m.log != nil {
				m.log.WithFields(logrus.Fields{
					"active":    sample.ActiveProcesses,
					"mean_time": sample.MeanProcessingTime,
					"queue":     sample.QueueDepth,
					"cpu":       sample.CPUPercent,
				}).Debug("load sample")
			}
		}
	}
}

func (m *Monitor) sample() LoadSample {
	sample := Aggregate(m.registry.Probes())
	// interval 0 returns utilization since the previous call, which makes
	// the ticker itself the measurement window.
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	return sample
}

// Aggregate folds a set of probes into one LoadSample. Processing time and
// block size are averaged over the probes that reported measurements.
func Aggregate(probes []Probe) LoadSample {
	sample := LoadSample{SampledAt: time.Now()}
	var (
		timeSum  time.Duration
		blockSum int
		measured int
	)
	for _, p := range probes {
		if p.Active {
			sample.ActiveProcesses++
		}
		sample.QueueDepth += p.QueueDepth
		if p.MeanProcessingTime > 0 {
			timeSum += p.MeanProcessingTime
			blockSum += p.MeanBlockSamples
			measured++
		}
	}
	if measured > 0 {
		sample.MeanProcessingTime = timeSum / time.Duration(measured)
		sample.MeanBlockSamples = blockSum / measured
	}
	return sample
}

// Load returns the latest published snapshot. Safe for concurrent readers,
// never blocks the writer.
func (m *Monitor) Load() LoadSample {
	return *m.snapshot.Load()
}

// Close stops the sampler. Idempotent; safe to call before Start.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.started.Load() {
			<-m.joined
		}
	})
	return nil
}
