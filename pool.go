package qubx

import (
	"runtime"
	"sync"
)

// workerPool is the shared set of goroutines used only during parallel
// fan-out of a single job. Submission is non-blocking: when the pool is
// saturated the caller runs the partition inline instead of waiting.
type workerPool struct {
	tasks     chan func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &workerPool{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *workerPool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// trySubmit hands the task to a pooled worker without blocking. Returns
// false when no slot is available.
func (p *workerPool) trySubmit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	case <-p.done:
		return false
	default:
		return false
	}
}

func (p *workerPool) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
