package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/taskforge/internal/algorithms"
	"github.com/taskforge/taskforge/internal/codec"
	"github.com/taskforge/taskforge/internal/dispatch"
	"github.com/taskforge/taskforge/internal/worker"
)

const (
	stateCreated int32 = iota
	stateStarted
	stateDraining
	stateClosed
	stateFailed
)

// assignment records which task (and which attempt of it) a worker slot is
// holding. Owned by the coordinator goroutine.
type assignment struct {
	taskID uint64
	epoch  uint64
}

type interrupt struct {
	worker int
	taskID uint64
}

// Pool owns a bounded set of worker contexts, assigns submitted tasks to
// idle workers, and settles each task's Future exactly once. One
// coordinator goroutine performs all assignment and supervision; workers
// communicate with it only through an events channel.
type Pool struct {
	conf *config
	log  *zap.Logger

	regMu    sync.Mutex
	registry map[string]Handler
	handlers map[string]Handler // frozen copy, read-only after Start

	state   atomic.Int32
	taskIDs atomic.Uint64

	ledger     *dispatch.Ledger[Outcome]
	events     chan worker.Event
	wake       chan struct{}
	interrupts chan interrupt

	runCtx    context.Context
	runStop   context.CancelFunc
	group     errgroup.Group
	runErr    error // written before runDone closes
	runDone   chan struct{}
	drainDone chan struct{}

	wmu      sync.RWMutex
	workers  []*worker.Handle
	assigned []assignment // coordinator-owned

	backoff algorithms.Backoff

	completed atomic.Uint64
	failed    atomic.Uint64
	crashed   atomic.Uint64
	retried   atomic.Uint64
	cancelled atomic.Uint64

	// spawnFn is swapped in tests to inject spawn failures.
	spawnFn func(worker.Config) (*worker.Handle, error)
}

// New creates an unstarted pool. Register functions, then call Start.
func New(opts ...Option) *Pool {
	cfg := newConfig(opts...)
	return &Pool{
		conf:     cfg,
		log:      cfg.logger,
		registry: make(map[string]Handler),
		spawnFn:  worker.Spawn,
	}
}

// Register binds a function ID to a handler. Registration is only allowed
// before Start.
func (p *Pool) Register(functionID string, h Handler) error {
	if functionID == "" {
		return errors.New("pool: empty function id")
	}
	if h == nil {
		return errors.New("pool: nil handler")
	}

	p.regMu.Lock()
	defer p.regMu.Unlock()

	if p.state.Load() != stateCreated {
		return ErrAlreadyStarted
	}
	if _, ok := p.registry[functionID]; ok {
		return fmt.Errorf("pool: function %q already registered", functionID)
	}
	p.registry[functionID] = h
	return nil
}

// Start spawns the configured number of workers and the coordinator.
// Cancelling ctx behaves like ShutdownNow: outstanding tasks settle with
// ErrCancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.regMu.Lock()
	if !p.state.CompareAndSwap(stateCreated, stateStarted) {
		p.regMu.Unlock()
		return ErrAlreadyStarted
	}
	p.handlers = make(map[string]Handler, len(p.registry))
	for id, h := range p.registry {
		p.handlers[id] = h
	}
	p.regMu.Unlock()

	n := p.conf.workerCount
	p.ledger = dispatch.NewLedger[Outcome](p.conf.maxQueueDepth)
	p.events = make(chan worker.Event, 2*n+16)
	p.wake = make(chan struct{}, 1)
	p.interrupts = make(chan interrupt, 16)
	p.backoff = p.conf.backoff()
	p.runDone = make(chan struct{})
	p.drainDone = make(chan struct{})
	p.runCtx, p.runStop = context.WithCancel(ctx)
	p.workers = make([]*worker.Handle, n)
	p.assigned = make([]assignment, n)

	for i := range n {
		h, err := p.spawnWorker(i)
		if err != nil {
			for _, spawned := range p.workers[:i] {
				spawned.Terminate()
			}
			p.state.Store(stateFailed)
			return fmt.Errorf("pool: spawning worker %d: %w", i, err)
		}
		p.workers[i] = h
	}

	p.group.Go(p.run)
	go func() {
		p.runErr = p.group.Wait()
		close(p.runDone)
	}()

	p.log.Info("pool started",
		zap.Int("workers", n),
		zap.Int("max_queue_depth", p.conf.maxQueueDepth),
		zap.Int("retry_limit", p.conf.retryLimit))
	return nil
}

// Submit accepts a task for the named function with copy semantics: the
// payload is serialized at this boundary, so later mutations by the caller
// are invisible to the worker. The returned Future settles exactly once
// with the task's Outcome.
//
// Submit fails fast with ErrPoolSaturated when the queue is at its
// configured depth; it never blocks on a full queue.
func (p *Pool) Submit(functionID string, payload any) (*Future, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("pool: encoding payload: %w", err)
	}
	return p.submit(functionID, data, nil, false)
}

// SubmitBuffer accepts a task with transfer semantics: ownership of buf
// moves into the pool and the caller's reference is revoked, avoiding a
// copy. The worker may mutate the buffer in place; the mutated buffer
// comes back on the Outcome.
func (p *Pool) SubmitBuffer(functionID string, buf *Buffer) (*Future, error) {
	if buf == nil {
		return nil, errors.New("pool: nil buffer")
	}
	data, err := buf.take()
	if err != nil {
		return nil, err
	}
	return p.submit(functionID, nil, data, true)
}

func (p *Pool) submit(functionID string, payload, buf []byte, transfer bool) (*Future, error) {
	switch p.state.Load() {
	case stateCreated:
		return nil, ErrNotStarted
	case stateDraining:
		return nil, ErrDraining
	case stateClosed, stateFailed:
		return nil, ErrPoolClosed
	}

	if _, ok := p.handlers[functionID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, functionID)
	}

	id := p.taskIDs.Add(1)
	fut := newFuture(p, id)
	t := &dispatch.Task{
		ID:          id,
		FunctionID:  functionID,
		Payload:     payload,
		Buffer:      buf,
		Transfer:    transfer,
		SubmittedAt: time.Now(),
	}

	if err := p.ledger.Submit(t, fut.result); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrQueueFull):
			return nil, ErrPoolSaturated
		case errors.Is(err, dispatch.ErrClosed):
			return nil, ErrPoolClosed
		default:
			return nil, err
		}
	}

	p.wakeRun()
	return fut, nil
}

// cancel implements Future.Cancel.
func (p *Pool) cancel(taskID uint64) error {
	settled, workerID := p.ledger.Settle(taskID, Outcome{TaskID: taskID, Err: ErrCancelled})
	if !settled {
		return ErrAlreadySettled
	}
	p.cancelled.Add(1)

	if workerID >= 0 {
		// Best-effort: ask the coordinator to cancel the worker's task
		// context. The outcome is already settled either way.
		select {
		case p.interrupts <- interrupt{worker: workerID, taskID: taskID}:
		default:
		}
	}
	p.wakeRun()
	return nil
}

// Drain stops accepting new tasks, lets queued and in-flight tasks finish,
// then releases all workers. timeout <= 0 waits indefinitely.
func (p *Pool) Drain(timeout time.Duration) error {
	if !p.state.CompareAndSwap(stateStarted, stateDraining) {
		switch p.state.Load() {
		case stateCreated:
			return ErrNotStarted
		default:
			return ErrPoolClosed
		}
	}
	p.log.Info("pool draining", zap.Int("pending", p.ledger.PendingLen()))
	p.wakeRun()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-p.drainDone:
		p.state.Store(stateClosed)
		p.log.Info("pool drained")
		return nil
	case <-p.runDone:
		if p.runErr != nil {
			p.state.Store(stateFailed)
			return p.runErr
		}
		return ErrPoolClosed
	case <-timer:
		return ErrShutdownTimeout
	}
}

// ShutdownNow stops the pool immediately. Queued and in-flight tasks
// settle with ErrCancelled; running workers are terminated (cooperative
// functions observe their context being cancelled).
func (p *Pool) ShutdownNow() error {
	for {
		s := p.state.Load()
		switch s {
		case stateCreated:
			return ErrNotStarted
		case stateClosed, stateFailed:
			return ErrPoolClosed
		}
		if p.state.CompareAndSwap(s, stateClosed) {
			break
		}
	}

	p.runStop()
	<-p.runDone
	p.log.Info("pool shut down")
	return p.runErr
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers      int
	WorkerStates []string
	Queued       int
	Pending      int
	Completed    uint64
	Failed       uint64
	Crashed      uint64
	Retried      uint64
	Cancelled    uint64
}

// Stats returns a snapshot of counters and worker states.
func (p *Pool) Stats() Stats {
	s := Stats{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Crashed:   p.crashed.Load(),
		Retried:   p.retried.Load(),
		Cancelled: p.cancelled.Load(),
	}
	if p.ledger != nil {
		s.Queued = p.ledger.QueuedLen()
		s.Pending = p.ledger.PendingLen()
	}

	p.wmu.RLock()
	s.Workers = len(p.workers)
	for _, h := range p.workers {
		s.WorkerStates = append(s.WorkerStates, h.State().String())
	}
	p.wmu.RUnlock()
	return s
}

func (p *Pool) spawnWorker(slot int) (*worker.Handle, error) {
	return p.spawnFn(worker.Config{
		ID:        slot,
		Events:    p.events,
		Exec:      p.execute,
		Limiter:   p.conf.rateLimiter,
		PinToCore: p.conf.pinWorkers,
	})
}

// execute bridges a worker request to the registered handler: decode side
// of the copy boundary on the way in, encode on the way out.
func (p *Pool) execute(ctx context.Context, req worker.Request) ([]byte, []byte, error) {
	h := p.handlers[req.FunctionID]
	if h == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFunction, req.FunctionID)
	}

	inv := &Invocation{
		taskID:     req.TaskID,
		functionID: req.FunctionID,
		payload:    req.Payload,
	}
	if req.Transfer {
		inv.buffer = NewBufferFrom(req.Buffer)
	}

	ret, err := h(ctx, inv)
	if err != nil {
		return nil, nil, err
	}

	// A handler may hand back a transfer buffer: either the one it was
	// given (possibly mutated) or a fresh one.
	if b, ok := ret.(*Buffer); ok {
		data, terr := b.take()
		if terr != nil {
			return nil, nil, fmt.Errorf("pool: result buffer: %w", terr)
		}
		return nil, data, nil
	}
	if req.Transfer && ret == nil {
		data, terr := inv.buffer.take()
		if terr != nil {
			// Handler transferred the buffer elsewhere and returned nil.
			return nil, nil, nil
		}
		return nil, data, nil
	}

	payload, err := codec.Marshal(ret)
	if err != nil {
		return nil, nil, fmt.Errorf("pool: encoding result: %w", err)
	}
	return payload, nil, nil
}

func (p *Pool) wakeRun() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
