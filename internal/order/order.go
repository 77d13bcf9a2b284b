// Package order publishes job results strictly in submission order. Jobs
// may finish out of order when several executors run concurrently; a
// completed result is held back until every result with a smaller sequence
// number has been published or skipped.
package order

import "sync"

// Publisher reorders completed blocks by sequence number. Sequence numbers
// start at 0 and must be dense: every number is eventually either
// Published or Skipped, otherwise the queue stalls.
type Publisher struct {
	mu   sync.Mutex
	next uint64
	held map[uint64][]float64
	emit func(block []float64)
}

// New returns a publisher calling emit for every released block, in
// sequence order, from the goroutine that completed the release.
func New(emit func(block []float64)) *Publisher {
	return &Publisher{
		held: make(map[uint64][]float64),
		emit: emit,
	}
}

// Publish hands over the result of job seq. If predecessors are still
// pending the block is held, otherwise it is emitted together with any
// held successors it unblocks.
func (p *Publisher) Publish(seq uint64, block []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.next {
		p.held[seq] = block
		return
	}
	p.emit(block)
	p.next++
	p.drain()
}

// Skip marks job seq as failed. Ordering advances without emitting, so one
// failed buffer never stalls its successors.
func (p *Publisher) Skip(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.next {
		p.held[seq] = nil
		return
	}
	p.next++
	p.drain()
}

func (p *Publisher) drain() {
	for {
		block, ok := p.held[p.next]
		if !ok {
			return
		}
		delete(p.held, p.next)
		if block != nil {
			p.emit(block)
		}
		p.next++
	}
}

// Pending returns the number of held out-of-order results.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}
