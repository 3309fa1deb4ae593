package queue

import (
	"errors"
	"sync"
	"time"
)

// ErrPoolSaturated is returned when a blocking task cannot be admitted to
// the pool within the submission timebox.
var ErrPoolSaturated = errors.New("queue: blocking pool saturated")

// blockingPool runs blocking processor work on a fixed set of goroutines so
// slow jobs never stall the consumer loops. Admission is bounded by the
// task channel depth plus a short submission timeout.
type blockingPool struct {
	tasks chan func()
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func newBlockingPool(size, queueDepth int) *blockingPool {
	if size <= 0 {
		size = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &blockingPool{
		tasks: make(chan func(), queueDepth),
		stop:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

func (p *blockingPool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case f := <-p.tasks:
			f()
		}
	}
}

// Submit offers f to the pool, waiting at most timeout for admission.
func (p *blockingPool) Submit(f func(), timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.tasks <- f:
		return nil
	case <-p.stop:
		return ErrPoolSaturated
	case <-timer.C:
		return ErrPoolSaturated
	}
}

// Stop halts the pool without draining queued tasks. Running tasks finish;
// queued but unstarted tasks are abandoned.
func (p *blockingPool) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}
