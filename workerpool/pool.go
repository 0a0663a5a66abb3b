// Package workerpool provides a bounded concurrency gate for the
// Pre-Ranking Pipeline's worker pool (§5): a buffered-channel semaphore
// generalizing the teacher's errgroup.WithContext fan-out
// (clients/evm.ResolveClientsFromConfig) from a one-shot bounded fan-out
// into a long-lived pool that accepts work as solution events arrive.
package workerpool

// Pool bounds concurrent work to size concurrent slots. Acquire blocks
// when the pool is saturated, which is exactly the backpressure the
// Event Ingestor's handoff is required to observe (§4.C.4, §5).
type Pool struct {
	sem chan struct{}
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free.
func (p *Pool) Acquire() {
	p.sem <- struct{}{}
}

// Release frees a slot acquired by Acquire.
func (p *Pool) Release() {
	<-p.sem
}

// Size reports the pool's capacity.
func (p *Pool) Size() int {
	return cap(p.sem)
}
