package sqlite

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"loa-board/internal/config"
	"loa-board/internal/game"
)

const (
	recorderBufferSize = 1024
	writeTimeout       = 5 * time.Second
)

type journalOp struct {
	matchID string
	rules   *config.RulesConfig // set for BeginMatch
	cmds    []game.Command
	at      time.Time
}

// Recorder is the engine's journal. It queues writes on a buffered channel
// and commits them from a single goroutine so the engine never waits on disk.
type Recorder struct {
	store *Store
	ops   chan journalOp
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder creates a recorder writing to store. Call Start before use.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store: store,
		ops:   make(chan journalOp, recorderBufferSize),
		done:  make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
	log.Printf("💾 Match journal recorder started")
}

// Stop flushes queued writes and stops the writer.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		log.Printf("💾 Match journal recorder stopped (%d written, %d dropped, %d failed)",
			r.written.Load(), r.dropped.Load(), r.failed.Load())
	})
}

// BeginMatch implements game.Journal.
func (r *Recorder) BeginMatch(matchID string, rules config.RulesConfig) {
	r.enqueue(journalOp{matchID: matchID, rules: &rules, at: time.Now()})
}

// Append implements game.Journal.
func (r *Recorder) Append(matchID string, cmds []game.Command) {
	batch := make([]game.Command, len(cmds))
	copy(batch, cmds)
	r.enqueue(journalOp{matchID: matchID, cmds: batch, at: time.Now()})
}

// Stats returns recorder counters for monitoring.
func (r *Recorder) Stats() map[string]any {
	return map[string]any{
		"written": r.written.Load(),
		"dropped": r.dropped.Load(),
		"failed":  r.failed.Load(),
		"queued":  len(r.ops),
	}
}

func (r *Recorder) enqueue(op journalOp) {
	select {
	case <-r.done:
		r.dropped.Add(1)
	case r.ops <- op:
	default:
		if r.dropped.Add(1)%100 == 1 {
			log.Printf("⚠️ Journal buffer full, dropping writes for match %s", op.matchID)
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case op := <-r.ops:
			r.write(op)
		case <-r.done:
			for {
				select {
				case op := <-r.ops:
					r.write(op)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(op journalOp) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if op.rules != nil {
		err = r.store.CreateMatch(ctx, op.matchID, *op.rules, op.at)
	} else {
		err = r.store.AppendCommands(ctx, op.matchID, op.cmds)
	}
	if err != nil {
		r.failed.Add(1)
		log.Printf("❌ Journal write for match %s failed: %v", op.matchID, err)
		return
	}
	r.written.Add(1)
}
