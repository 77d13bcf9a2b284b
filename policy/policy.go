// Package policy decides, per job, whether a dsp process should run a data
// block on its single worker or fan it out across the shared pool. The
// decision is a deterministic function of the latest load snapshot, the
// block size and the hysteresis state, so it is testable without threads.
package policy

import (
	"runtime"
	"sync"
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/qubx-audio/qubx/monitor"
)

// Decision is the outcome of one Decide call: the number of workers the
// block should be partitioned across. Workers == 1 means serial.
type Decision struct {
	Workers int
}

// Parallel reports whether the block should be split.
func (d Decision) Parallel() bool { return d.Workers > 1 }

// Serial is the single-worker decision.
var Serial = Decision{Workers: 1}

// Config tunes a policy instance.
type Config struct {
	// Deadline is the real-time budget of one stream buffer.
	Deadline time.Duration
	// EnterFraction of the deadline the estimated serial time must exceed
	// before switching to parallel. Defaults to 0.5.
	EnterFraction float64
	// ExitFraction of the deadline the estimate must drop below before
	// reverting to serial. Defaults to 0.25. Must be below EnterFraction;
	// the gap is the hysteresis band.
	ExitFraction float64
	// Reserved is the number of cores kept free for real-time threads.
	// Defaults to 2.
	Reserved int
	// MaxWorkers caps the fan-out regardless of spare capacity. Defaults
	// to the physical core count.
	MaxWorkers int
}

// Policy holds the hysteresis state of one dsp process. Safe for
// concurrent use.
type Policy struct {
	mu       sync.Mutex
	cfg      Config
	cores    int
	parallel bool
}

// New returns a policy with defaults applied. Hardware capacity comes from
// the physical core count, falling back to GOMAXPROCS-visible CPUs when
// cpuid cannot tell.
func New(cfg Config) *Policy {
	if cfg.EnterFraction <= 0 {
		cfg.EnterFraction = 0.5
	}
	if cfg.ExitFraction <= 0 {
		cfg.ExitFraction = 0.25
	}
	if cfg.Reserved <= 0 {
		cfg.Reserved = 2
	}
	cores := cpuid.CPU.PhysicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = cores
	}
	return &Policy{cfg: cfg, cores: cores}
}

// Decide maps the current load and block size to a split decision.
//
// The block is split only when the estimated serial processing time
// exceeds EnterFraction of the deadline and spare worker capacity exists.
// Once parallel, the policy reverts to serial only when the estimate drops
// below ExitFraction of the deadline, so borderline loads do not thrash
// between modes.
func (p *Policy) Decide(load monitor.LoadSample, dataSize int) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	estimate := estimateSerial(load, dataSize)
	spare := p.cores - load.ActiveProcesses - p.cfg.Reserved

	if p.parallel {
		if estimate < p.exitThreshold() || spare < 2 {
			p.parallel = false
		}
	} else {
		if estimate > p.enterThreshold() && spare >= 2 {
			p.parallel = true
		}
	}
	if !p.parallel {
		return Serial
	}
	workers := spare
	if workers > p.cfg.MaxWorkers {
		workers = p.cfg.MaxWorkers
	}
	if workers < 2 {
		p.parallel = false
		return Serial
	}
	return Decision{Workers: workers}
}

func (p *Policy) enterThreshold() time.Duration {
	return time.Duration(float64(p.cfg.Deadline) * p.cfg.EnterFraction)
}

func (p *Policy) exitThreshold() time.Duration {
	return time.Duration(float64(p.cfg.Deadline) * p.cfg.ExitFraction)
}

// estimateSerial scales the observed mean processing time to the size of
// the block at hand. Without an observed block size the mean is used as
// is; without any observation the estimate is zero and the decision stays
// serial.
func estimateSerial(load monitor.LoadSample, dataSize int) time.Duration {
	if load.MeanProcessingTime <= 0 {
		return 0
	}
	if load.MeanBlockSamples <= 0 || dataSize <= 0 {
		return load.MeanProcessingTime
	}
	ratio := float64(dataSize) / float64(load.MeanBlockSamples)
	return time.Duration(float64(load.MeanProcessingTime) * ratio)
}
