package telegraph

import (
	"context"
	"hash/fnv"
	"sync"
)

const (
	// DefaultWorkers is the worker count when none is configured.
	DefaultWorkers = 8
	// workerQueueSize bounds how many messages can wait per worker.
	workerQueueSize = 64
)

// workerPool processes inbound messages on a fixed set of workers. Messages
// from one user always land on the same worker, so each user's messages are
// handled in arrival order while different users proceed in parallel.
type workerPool struct {
	queues []chan InboundMessage
	handle func(context.Context, InboundMessage)
	wg     sync.WaitGroup
}

func newWorkerPool(n int, handle func(context.Context, InboundMessage)) *workerPool {
	if n <= 0 {
		n = DefaultWorkers
	}
	queues := make([]chan InboundMessage, n)
	for i := range queues {
		queues[i] = make(chan InboundMessage, workerQueueSize)
	}
	return &workerPool{queues: queues, handle: handle}
}

func (p *workerPool) start(ctx context.Context) {
	for _, q := range p.queues {
		p.wg.Add(1)
		go func(q <-chan InboundMessage) {
			defer p.wg.Done()
			for msg := range q {
				p.handle(ctx, msg)
			}
		}(q)
	}
}

// submit queues msg on its user's worker, blocking while that worker is
// backed up. It returns false if ctx ends first.
func (p *workerPool) submit(ctx context.Context, msg InboundMessage) bool {
	select {
	case p.queues[shardFor(msg.UserID, len(p.queues))] <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// stop closes every queue and waits for the workers to drain them.
// submit must not be called afterwards.
func (p *workerPool) stop() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}

func shardFor(userID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}
