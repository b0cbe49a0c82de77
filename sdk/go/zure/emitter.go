package zure

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EmitterConfig tunes an Emitter. The zero value gets sensible defaults.
type EmitterConfig struct {
	// QueueSize bounds the number of runs buffered before Emit starts
	// dropping. Defaults to 256.
	QueueSize int

	// FlushTimeout bounds each background ingest request. Defaults to
	// 10 seconds.
	FlushTimeout time.Duration

	// OnError, if set, is called from the flush goroutine whenever an
	// ingest attempt fails. The run is not retried.
	OnError func(run IngestRunRequest, err error)
}

// Emitter submits runs to the server in the background so agents never
// block on observability. The queue is bounded: when it is full, Emit drops
// the run and increments a counter instead of applying backpressure.
type Emitter struct {
	client  *Client
	queue   chan IngestRunRequest
	timeout time.Duration
	onError func(IngestRunRequest, error)

	dropped atomic.Int64

	mu      sync.RWMutex
	closed  bool
	flushed chan struct{}
}

// NewEmitter starts an Emitter flushing through the given client.
// Call Drain before the process exits to flush buffered runs.
func NewEmitter(client *Client, cfg EmitterConfig) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}

	e := &Emitter{
		client:  client,
		queue:   make(chan IngestRunRequest, cfg.QueueSize),
		timeout: cfg.FlushTimeout,
		onError: cfg.OnError,
		flushed: make(chan struct{}),
	}
	go e.flushLoop()
	return e
}

// Emit enqueues a run for background submission. It never blocks: if the
// queue is full or the emitter is draining, the run is dropped and Emit
// returns false.
func (e *Emitter) Emit(run IngestRunRequest) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return false
	}

	select {
	case e.queue <- run:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// EmitRecorder finishes the recorder as successful unless a failure was
// recorded, then enqueues the run. Validation errors surface immediately;
// the run is not enqueued when validation fails.
func (e *Emitter) EmitRecorder(r *RunRecorder) (bool, error) {
	status := RunStatusSuccess
	r.mu.Lock()
	if r.run.Failure != nil {
		status = RunStatusFailure
	}
	r.mu.Unlock()

	run, err := r.Finish(status)
	if err != nil {
		return false, err
	}
	return e.Emit(run), nil
}

// Dropped returns the number of runs dropped due to a full queue or
// emission after Drain.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Drain stops accepting new runs and flushes the buffered ones, returning
// when the queue is empty or ctx expires. Safe to call more than once.
func (e *Emitter) Drain(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) flushLoop() {
	defer close(e.flushed)
	for run := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		_, err := e.client.IngestRun(ctx, run)
		cancel()
		if err != nil && e.onError != nil {
			e.onError(run, err)
		}
	}
}
