// Package worker implements the handle around one isolated execution
// context. Each handle owns a capacity-1 mailbox; the coordinator routes
// work to a specific handle rather than through any shared channel, and
// results flow back tagged with the task ID and assignment epoch.
//
// A panic inside the executed function is not absorbed: it terminates the
// worker goroutine, the coordinator is notified with EventCrashed, and the
// supervisor replaces the handle. This mirrors a thread or process dying
// mid-task, which is exactly the failure the pool is designed to survive.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskforge/taskforge/internal/cpu"
)

// State is the lifecycle state of a worker handle.
type State int32

const (
	// Idle: ready for an assignment.
	Idle State = iota
	// Busy: executing exactly one task.
	Busy
	// Restarting: slot is being replaced after a recoverable fault.
	Restarting
	// Terminated: the execution context is gone for good.
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Restarting:
		return "restarting"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// ExecFunc runs one request and returns the serialized result payload, the
// returned transfer buffer (nil for copy-semantics tasks), and any fault
// raised by the registered function. A panic escapes deliberately.
type ExecFunc func(ctx context.Context, req Request) (payload []byte, buf []byte, err error)

// Config configures one handle.
type Config struct {
	// ID identifies the worker slot; stable across replacements.
	ID int

	// Events receives every Response and crash report. Must be buffered
	// generously by the pool; sends also select on handle termination so
	// an abandoned worker cannot block forever.
	Events chan<- Event

	// Exec executes requests. Required.
	Exec ExecFunc

	// Limiter optionally rate-limits task execution.
	Limiter *rate.Limiter

	// PinToCore pins the worker's OS thread to a CPU core.
	PinToCore bool
}

// Handle wraps one worker goroutine and tracks its lifecycle and current
// assignment.
type Handle struct {
	id      int
	mailbox chan Request
	events  chan<- Event
	exec    ExecFunc
	limiter *rate.Limiter
	pin     bool

	state       atomic.Int32
	currentTask atomic.Uint64 // 0 = none; task IDs start at 1
	lastBeat    atomic.Int64  // unix nanos of last sign of life

	ctx    context.Context
	cancel context.CancelFunc

	taskMu     sync.Mutex
	taskCancel context.CancelFunc
}

// Spawn creates the handle and starts its goroutine. The handle starts
// Idle.
func Spawn(cfg Config) (*Handle, error) {
	if cfg.Exec == nil {
		return nil, errors.New("worker: nil exec function")
	}
	if cfg.Events == nil {
		return nil, errors.New("worker: nil events channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:      cfg.ID,
		mailbox: make(chan Request, 1),
		events:  cfg.Events,
		exec:    cfg.Exec,
		limiter: cfg.Limiter,
		pin:     cfg.PinToCore,
		ctx:     ctx,
		cancel:  cancel,
	}
	h.beat()

	go h.run()
	return h, nil
}

// ID returns the worker slot number.
func (h *Handle) ID() int { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// CurrentTask returns the in-flight task ID, or 0 when idle.
func (h *Handle) CurrentTask() uint64 { return h.currentTask.Load() }

// Assign hands a request to the worker. The coordinator must only assign
// to an Idle handle; a full mailbox or a dead handle is rejected.
func (h *Handle) Assign(req Request) error {
	if h.State() != Idle {
		return errors.New("worker: not idle")
	}
	select {
	case h.mailbox <- req:
		return nil
	default:
		return errors.New("worker: mailbox full")
	}
}

// Interrupt cancels the context of the given in-flight task, best-effort.
// Functions that honor their context stop early; ones that don't keep
// running, but their result will be dropped by the ledger.
func (h *Handle) Interrupt(taskID uint64) {
	if h.currentTask.Load() != taskID {
		return
	}
	h.taskMu.Lock()
	if h.taskCancel != nil {
		h.taskCancel()
	}
	h.taskMu.Unlock()
}

// Terminate force-terminates the handle: the lifecycle moves to
// Terminated, the current task's context is cancelled, and the goroutine
// exits as soon as it next observes the handle context. A worker stuck in
// non-cooperative user code is abandoned; its eventual output is discarded
// upstream.
func (h *Handle) Terminate() {
	h.state.Store(int32(Terminated))
	h.taskMu.Lock()
	if h.taskCancel != nil {
		h.taskCancel()
	}
	h.taskMu.Unlock()
	h.cancel()
}

// Unresponsive reports whether the handle has been Busy without a sign of
// life for longer than timeout. timeout <= 0 disables the check.
func (h *Handle) Unresponsive(timeout time.Duration) bool {
	if timeout <= 0 || h.State() != Busy {
		return false
	}
	last := time.Unix(0, h.lastBeat.Load())
	return time.Since(last) > timeout
}

func (h *Handle) beat() {
	h.lastBeat.Store(time.Now().UnixNano())
}

func (h *Handle) run() {
	if h.pin {
		release := cpu.PinWorker(h.id)
		defer release()
	}

	for {
		select {
		case <-h.ctx.Done():
			h.state.Store(int32(Terminated))
			return
		case req := <-h.mailbox:
			if !h.serve(req) {
				return
			}
		}
	}
}

// serve executes one request. It returns false when the worker must die:
// either the handle was terminated or the executed function panicked.
func (h *Handle) serve(req Request) (alive bool) {
	h.state.Store(int32(Busy))
	h.currentTask.Store(req.TaskID)
	h.beat()

	taskCtx, cancel := context.WithCancel(h.ctx)
	h.taskMu.Lock()
	h.taskCancel = cancel
	h.taskMu.Unlock()

	defer func() {
		h.taskMu.Lock()
		h.taskCancel = nil
		h.taskMu.Unlock()
		cancel()
		h.currentTask.Store(0)

		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			h.state.Store(int32(Terminated))
			h.emit(Event{
				Kind:       EventCrashed,
				WorkerID:   h.id,
				TaskID:     req.TaskID,
				Epoch:      req.Epoch,
				PanicValue: r,
				Stack:      buf[:n],
			})
			alive = false
		}
	}()

	if h.limiter != nil {
		if err := h.limiter.Wait(taskCtx); err != nil {
			// Interrupted while throttled; the attempt never ran.
			h.finish(Response{
				TaskID: req.TaskID, Epoch: req.Epoch, WorkerID: h.id,
				FunctionID: req.FunctionID, Err: err, Started: time.Now(),
			})
			return h.State() != Terminated
		}
	}

	started := time.Now()
	payload, buf, err := h.exec(taskCtx, req)

	h.finish(Response{
		TaskID:     req.TaskID,
		Epoch:      req.Epoch,
		WorkerID:   h.id,
		FunctionID: req.FunctionID,
		Payload:    payload,
		Buffer:     buf,
		Err:        err,
		Started:    started,
		Duration:   time.Since(started),
	})
	return h.State() != Terminated
}

func (h *Handle) finish(resp Response) {
	h.emit(Event{Kind: EventResult, WorkerID: h.id, Resp: resp})
	h.beat()
	h.currentTask.Store(0)
	h.state.CompareAndSwap(int32(Busy), int32(Idle))
}

// emit delivers an event without wedging an abandoned worker: if the
// handle is terminated and the coordinator is gone, the send is dropped.
func (h *Handle) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
		select {
		case h.events <- ev:
		default:
		}
	}
}
