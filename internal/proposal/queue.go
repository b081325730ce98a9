package proposal

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Observer is notified after every resolved proposal.
type Observer func(p Proposal, r Result, elapsed time.Duration)

// Queue serialises proposals from every transport onto a single worker,
// so the authority resolves them strictly one at a time in arrival order.
type Queue struct {
	items    chan queued
	handler  *Handler
	observer Observer
	wg       sync.WaitGroup
	stopChan chan struct{}

	// mu orders enqueues against Stop: once running is false under the
	// write lock, nothing new reaches items and the drain answers the rest.
	mu      sync.RWMutex
	running bool

	// Metrics
	enqueued    atomic.Uint64
	processed   atomic.Uint64
	dropped     atomic.Uint64
	avgWaitTime atomic.Int64 // nanoseconds, exponential moving average
}

type queued struct {
	proposal Proposal
	reply    chan Result
}

// QueueConfig holds configuration for the proposal queue
type QueueConfig struct {
	BufferSize int      // Number of proposals to buffer (default: 64)
	Observer   Observer // Optional
}

// DefaultQueueConfig returns the production defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{BufferSize: 64}
}

// NewQueue creates a new proposal queue
func NewQueue(handler *Handler, config QueueConfig) *Queue {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	return &Queue{
		items:    make(chan queued, config.BufferSize),
		handler:  handler,
		observer: config.Observer,
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	log.Printf("🚀 Proposal queue starting, buffer size %d", cap(q.items))

	q.wg.Add(1)
	go q.worker()
}

// Stop shuts the worker down. Proposals still buffered are answered with
// ErrQueueStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	close(q.stopChan)
	q.wg.Wait()

	for {
		select {
		case item := <-q.items:
			item.reply <- failed(ErrQueueStopped)
		default:
			log.Printf("📊 Proposal queue stopped - enqueued: %d, processed: %d, dropped: %d",
				q.enqueued.Load(), q.processed.Load(), q.dropped.Load())
			return
		}
	}
}

// Submit enqueues p and waits for its result. It never blocks on a full
// queue: the proposal is dropped with ErrQueueFull instead.
func (q *Queue) Submit(ctx context.Context, p Proposal) Result {
	p.ReceivedAt = time.Now()
	item := queued{proposal: p, reply: make(chan Result, 1)}
	if err := q.enqueue(item); err != nil {
		return failed(err)
	}

	select {
	case r := <-item.reply:
		return r
	case <-ctx.Done():
		// The worker still resolves it; only the answer is lost.
		return failed(ctx.Err())
	}
}

func (q *Queue) enqueue(item queued) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		return ErrQueueStopped
	}

	select {
	case q.items <- item:
		q.enqueued.Add(1)
		return nil
	default:
		dropped := q.dropped.Add(1)
		if dropped%100 == 1 {
			log.Printf("⚠️ Proposal queue full, dropped %s from %s (total dropped: %d)",
				item.proposal.Type, item.proposal.Team, dropped)
		}
		return ErrQueueFull
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopChan:
			return
		case item := <-q.items:
			waitTime := time.Since(item.proposal.ReceivedAt)
			q.updateAvgWaitTime(waitTime)

			if waitTime > 100*time.Millisecond {
				log.Printf("⚠️ Proposal %s from %s waited %.1fms in queue",
					item.proposal.Type, item.proposal.Team, float64(waitTime.Microseconds())/1000)
			}

			start := time.Now()
			r := q.handler.Process(item.proposal)
			if q.observer != nil {
				q.observer(item.proposal, r, time.Since(start))
			}
			item.reply <- r
			q.processed.Add(1)
		}
	}
}

// updateAvgWaitTime updates exponential moving average
func (q *Queue) updateAvgWaitTime(waitTime time.Duration) {
	current := q.avgWaitTime.Load()
	newAvg := (current*9 + waitTime.Nanoseconds()) / 10
	q.avgWaitTime.Store(newAvg)
}

// Stats returns current queue statistics
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued:      q.enqueued.Load(),
		Processed:     q.processed.Load(),
		Dropped:       q.dropped.Load(),
		Pending:       uint64(len(q.items)),
		BufferSize:    uint64(cap(q.items)),
		AvgWaitTimeMs: float64(q.avgWaitTime.Load()) / 1e6,
	}
}

// QueueStats holds queue metrics
type QueueStats struct {
	Enqueued      uint64  `json:"enqueued"`
	Processed     uint64  `json:"processed"`
	Dropped       uint64  `json:"dropped"`
	Pending       uint64  `json:"pending"`
	BufferSize    uint64  `json:"buffer_size"`
	AvgWaitTimeMs float64 `json:"avg_wait_time_ms"`
}
