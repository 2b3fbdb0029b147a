package pool

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/dispatch"
	"github.com/taskforge/taskforge/internal/worker"
)

// run is the coordinator goroutine: the single writer for assignments,
// completions, crash supervision, and the health watchdog. Returning a
// non-nil error means the pool failed and all pending tasks were settled.
func (p *Pool) run() error {
	ticker := time.NewTicker(p.conf.healthInterval)
	defer ticker.Stop()

	for {
		p.dispatch()

		if p.state.Load() == stateDraining && p.ledger.PendingLen() == 0 {
			p.stopWorkers()
			close(p.drainDone)
			return nil
		}

		select {
		case <-p.runCtx.Done():
			p.shutdown()
			return nil

		case ev := <-p.events:
			if err := p.handleEvent(ev); err != nil {
				p.fail(err)
				return err
			}

		case it := <-p.interrupts:
			p.wmu.RLock()
			var h *worker.Handle
			if it.worker >= 0 && it.worker < len(p.workers) {
				h = p.workers[it.worker]
			}
			p.wmu.RUnlock()
			if h != nil {
				h.Interrupt(it.taskID)
			}

		case <-p.wake:

		case <-ticker.C:
			if err := p.checkHealth(); err != nil {
				p.fail(err)
				return err
			}
		}
	}
}

// dispatch drains the queue onto idle workers.
func (p *Pool) dispatch() {
	for {
		slot := p.idleSlot()
		if slot < 0 {
			return
		}

		t, epoch, ok := p.ledger.Next(slot)
		if !ok {
			return
		}

		p.wmu.RLock()
		h := p.workers[slot]
		p.wmu.RUnlock()

		err := h.Assign(worker.Request{
			TaskID:     t.ID,
			Epoch:      epoch,
			FunctionID: t.FunctionID,
			Payload:    t.Payload,
			Buffer:     t.Buffer,
			Transfer:   t.Transfer,
		})
		if err != nil {
			// The slot stopped being idle between the check and the send.
			// Put the task back; the next loop pass will find another slot.
			p.log.Debug("assignment rejected, requeueing",
				zap.Int("worker", slot), zap.Uint64("task", t.ID), zap.Error(err))
			p.ledger.Unassign(t.ID, epoch)
			return
		}
		p.assigned[slot] = assignment{taskID: t.ID, epoch: epoch}
	}
}

func (p *Pool) idleSlot() int {
	p.wmu.RLock()
	defer p.wmu.RUnlock()
	for i, h := range p.workers {
		if p.assigned[i].taskID == 0 && h.State() == worker.Idle {
			return i
		}
	}
	return -1
}

func (p *Pool) handleEvent(ev worker.Event) error {
	switch ev.Kind {
	case worker.EventResult:
		p.onResult(ev.Resp)
		return nil
	case worker.EventCrashed:
		return p.onCrash(ev)
	}
	return nil
}

func (p *Pool) onResult(resp worker.Response) {
	if resp.WorkerID >= 0 && resp.WorkerID < len(p.assigned) {
		a := p.assigned[resp.WorkerID]
		if a.taskID == resp.TaskID && a.epoch == resp.Epoch {
			p.assigned[resp.WorkerID] = assignment{}
		}
	}

	o := Outcome{TaskID: resp.TaskID, Duration: resp.Duration}
	if resp.Err != nil {
		o.Err = &TaskError{
			FunctionID: resp.FunctionID,
			TaskID:     resp.TaskID,
			Err:        resp.Err,
		}
	} else {
		o.payload = resp.Payload
		if resp.Buffer != nil {
			o.buffer = NewBufferFrom(resp.Buffer)
		}
	}

	if !p.ledger.Complete(resp.TaskID, resp.Epoch, o) {
		// Cancelled, already settled, or an abandoned attempt's late
		// output. Either way its outcome went out some other path.
		p.log.Debug("dropping stale result",
			zap.Uint64("task", resp.TaskID), zap.Uint64("epoch", resp.Epoch))
		return
	}

	if o.Err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

func (p *Pool) onCrash(ev worker.Event) error {
	p.crashed.Add(1)
	p.log.Warn("worker crashed",
		zap.Int("worker", ev.WorkerID),
		zap.Uint64("task", ev.TaskID),
		zap.Any("panic", ev.PanicValue))
	p.log.Debug("crash stack", zap.ByteString("stack", ev.Stack))

	if ev.WorkerID >= 0 && ev.WorkerID < len(p.assigned) {
		if p.assigned[ev.WorkerID].taskID == ev.TaskID {
			p.assigned[ev.WorkerID] = assignment{}
		}
	}

	if err := p.replaceWorker(ev.WorkerID); err != nil {
		return fmt.Errorf("pool: replacing crashed worker %d: %w", ev.WorkerID, err)
	}

	p.retryOrFail(ev.TaskID, ev.Epoch, ev.PanicValue)
	return nil
}

// retryOrFail decides the fate of a task whose worker died: reassign it
// after a backoff delay, or settle it with WorkerCrashedError once the
// retry limit is spent.
func (p *Pool) retryOrFail(taskID, epoch uint64, panicValue any) {
	attempts, ok := p.ledger.CrashInFlight(taskID, epoch)
	if !ok {
		return // settled or cancelled in the meantime
	}

	if attempts > p.conf.retryLimit {
		o := Outcome{TaskID: taskID, Err: &WorkerCrashedError{
			TaskID:     taskID,
			Attempts:   attempts,
			PanicValue: panicValue,
		}}
		if settled, _ := p.ledger.Settle(taskID, o); settled {
			p.failed.Add(1)
			p.log.Warn("task failed permanently after crashes",
				zap.Uint64("task", taskID), zap.Int("attempts", attempts))
		}
		return
	}

	p.retried.Add(1)
	delay := p.backoff.NextDelay(attempts - 1)
	p.log.Info("requeueing task after crash",
		zap.Uint64("task", taskID),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay))

	if delay <= 0 {
		p.ledger.Requeue(taskID)
		return
	}
	time.AfterFunc(delay, func() {
		if p.ledger.Requeue(taskID) {
			p.wakeRun()
		}
	})
}

// checkHealth force-terminates workers that have held one task past the
// configured timeout and treats them as crashed.
func (p *Pool) checkHealth() error {
	p.wmu.RLock()
	workers := make([]*worker.Handle, len(p.workers))
	copy(workers, p.workers)
	p.wmu.RUnlock()

	for slot, h := range workers {
		if !h.Unresponsive(p.conf.healthTimeout) {
			continue
		}

		a := p.assigned[slot]
		p.crashed.Add(1)
		p.log.Warn("worker unresponsive, terminating",
			zap.Int("worker", slot),
			zap.Uint64("task", a.taskID),
			zap.Duration("timeout", p.conf.healthTimeout))

		// The goroutine may be wedged in non-cooperative user code; it is
		// abandoned and any output it still produces carries a stale epoch.
		h.Terminate()
		p.assigned[slot] = assignment{}

		if err := p.replaceWorker(slot); err != nil {
			return fmt.Errorf("pool: replacing unresponsive worker %d: %w", slot, err)
		}
		if a.taskID != 0 {
			p.retryOrFail(a.taskID, a.epoch, nil)
		}
	}
	return nil
}

func (p *Pool) replaceWorker(slot int) error {
	if slot < 0 || slot >= len(p.workers) {
		return nil
	}

	h, err := p.spawnWorker(slot)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	old := p.workers[slot]
	p.workers[slot] = h
	p.wmu.Unlock()

	old.Terminate()
	p.log.Info("worker replaced", zap.Int("worker", slot))
	return nil
}

// shutdown handles coordinator exit on context cancellation: every
// unsettled task gets ErrCancelled.
func (p *Pool) shutdown() {
	p.stopWorkers()
	n := p.ledger.SettleAll(func(t *dispatch.Task) Outcome {
		return Outcome{TaskID: t.ID, Err: ErrCancelled}
	})
	if n > 0 {
		p.cancelled.Add(uint64(n))
		p.log.Info("settled outstanding tasks on shutdown", zap.Int("tasks", n))
	}
	p.state.CompareAndSwap(stateStarted, stateClosed)
	p.state.CompareAndSwap(stateDraining, stateClosed)
}

// fail is the unrecoverable path: a replacement worker could not be
// spawned, so the pool can no longer honor its settlement guarantee with
// workers alone. Every pending task settles with the failure.
func (p *Pool) fail(cause error) {
	p.log.Error("pool failed", zap.Error(cause))
	p.state.Store(stateFailed)
	p.stopWorkers()
	p.ledger.SettleAll(func(t *dispatch.Task) Outcome {
		return Outcome{TaskID: t.ID, Err: errors.Join(ErrPoolClosed, cause)}
	})
}

func (p *Pool) stopWorkers() {
	p.wmu.RLock()
	defer p.wmu.RUnlock()
	for _, h := range p.workers {
		h.Terminate()
	}
}
