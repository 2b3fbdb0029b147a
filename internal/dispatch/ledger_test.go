package dispatch

import (
	"errors"
	"testing"
	"time"
)

type outcome struct {
	value int
	err   error
}

func newTask(id uint64) *Task {
	return &Task{ID: id, FunctionID: "fn", Payload: []byte{0x01}, SubmittedAt: time.Now()}
}

func mustSubmit(t *testing.T, l *Ledger[outcome], id uint64) chan outcome {
	t.Helper()
	out := make(chan outcome, 1)
	if err := l.Submit(newTask(id), out); err != nil {
		t.Fatalf("submit task %d: %v", id, err)
	}
	return out
}

func TestLedger_SubmitAndNext(t *testing.T) {
	l := NewLedger[outcome](10)
	mustSubmit(t, l, 1)
	mustSubmit(t, l, 2)

	if got := l.QueuedLen(); got != 2 {
		t.Fatalf("expected 2 queued, got %d", got)
	}

	task, epoch, ok := l.Next(0)
	if !ok || task.ID != 1 {
		t.Fatalf("expected task 1, got %+v ok=%v", task, ok)
	}
	if epoch != 1 {
		t.Errorf("expected epoch 1 for first assignment, got %d", epoch)
	}

	task, _, ok = l.Next(1)
	if !ok || task.ID != 2 {
		t.Fatalf("expected task 2, got %+v ok=%v", task, ok)
	}

	if _, _, ok := l.Next(0); ok {
		t.Error("expected empty queue")
	}
}

func TestLedger_QueueFull(t *testing.T) {
	l := NewLedger[outcome](2)
	mustSubmit(t, l, 1)
	mustSubmit(t, l, 2)

	out := make(chan outcome, 1)
	err := l.Submit(newTask(3), out)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// Handing a task to a worker frees a queue slot.
	if _, _, ok := l.Next(0); !ok {
		t.Fatal("expected a task")
	}
	if err := l.Submit(newTask(3), out); err != nil {
		t.Fatalf("expected submit to succeed after dispatch, got %v", err)
	}
}

func TestLedger_CompleteSettlesOnce(t *testing.T) {
	l := NewLedger[outcome](10)
	out := mustSubmit(t, l, 1)

	_, epoch, _ := l.Next(0)

	if !l.Complete(1, epoch, outcome{value: 42}) {
		t.Fatal("expected first completion to settle")
	}
	if l.Complete(1, epoch, outcome{value: 99}) {
		t.Fatal("duplicate completion must be dropped")
	}

	got := <-out
	if got.value != 42 {
		t.Errorf("expected 42, got %d", got.value)
	}
	if l.PendingLen() != 0 {
		t.Errorf("expected no pending entries, got %d", l.PendingLen())
	}
}

func TestLedger_StaleEpochDropped(t *testing.T) {
	l := NewLedger[outcome](10)
	out := mustSubmit(t, l, 1)

	_, epoch1, _ := l.Next(0)

	// Worker 0 crashes; the task is requeued and handed to worker 1.
	if _, ok := l.CrashInFlight(1, epoch1); !ok {
		t.Fatal("expected crash to be recorded")
	}
	if !l.Requeue(1) {
		t.Fatal("expected requeue")
	}
	_, epoch2, ok := l.Next(1)
	if !ok {
		t.Fatal("expected requeued task")
	}
	if epoch2 == epoch1 {
		t.Fatal("expected a fresh epoch after reassignment")
	}

	// A zombie result from the first attempt must not settle the task.
	if l.Complete(1, epoch1, outcome{value: 13}) {
		t.Fatal("stale-epoch completion must be dropped")
	}
	if !l.Complete(1, epoch2, outcome{value: 42}) {
		t.Fatal("current-epoch completion must settle")
	}

	if got := <-out; got.value != 42 {
		t.Errorf("expected 42, got %d", got.value)
	}
}

func TestLedger_CrashAttemptsAccumulate(t *testing.T) {
	l := NewLedger[outcome](10)
	mustSubmit(t, l, 1)

	for want := 1; want <= 3; want++ {
		_, epoch, ok := l.Next(0)
		if !ok {
			t.Fatalf("attempt %d: expected a task", want)
		}
		attempts, ok := l.CrashInFlight(1, epoch)
		if !ok || attempts != want {
			t.Fatalf("expected attempts=%d ok=true, got %d %v", want, attempts, ok)
		}
		if !l.Requeue(1) {
			t.Fatalf("attempt %d: expected requeue", want)
		}
	}
}

func TestLedger_SettleQueuedCancellation(t *testing.T) {
	l := NewLedger[outcome](10)
	out := mustSubmit(t, l, 1)

	cancelErr := errors.New("cancelled")
	settled, worker := l.Settle(1, outcome{err: cancelErr})
	if !settled {
		t.Fatal("expected settle")
	}
	if worker != -1 {
		t.Errorf("queued task has no worker, got %d", worker)
	}

	if got := <-out; got.err != cancelErr {
		t.Errorf("expected cancel error, got %v", got.err)
	}

	// The queue still holds the stale ID; Next must skip it.
	if _, _, ok := l.Next(0); ok {
		t.Error("cancelled task must never be dispatched")
	}
}

func TestLedger_SettleInFlightReportsWorker(t *testing.T) {
	l := NewLedger[outcome](10)
	out := mustSubmit(t, l, 1)

	_, epoch, _ := l.Next(7)

	settled, worker := l.Settle(1, outcome{err: errors.New("abandoned")})
	if !settled || worker != 7 {
		t.Fatalf("expected settle on worker 7, got settled=%v worker=%d", settled, worker)
	}
	<-out

	// The abandoned worker finishes later; its result must be dropped.
	if l.Complete(1, epoch, outcome{value: 1}) {
		t.Error("completion after abandonment must be dropped")
	}
}

func TestLedger_SettleAll(t *testing.T) {
	l := NewLedger[outcome](10)
	outs := []chan outcome{
		mustSubmit(t, l, 1),
		mustSubmit(t, l, 2),
		mustSubmit(t, l, 3),
	}
	l.Next(0) // one in flight, two queued

	closeErr := errors.New("pool closed")
	n := l.SettleAll(func(*Task) outcome { return outcome{err: closeErr} })
	if n != 3 {
		t.Fatalf("expected 3 settled, got %d", n)
	}

	for i, out := range outs {
		if got := <-out; got.err != closeErr {
			t.Errorf("task %d: expected pool closed error, got %v", i+1, got.err)
		}
	}
	if l.PendingLen() != 0 || l.QueuedLen() != 0 {
		t.Error("expected empty ledger after SettleAll")
	}
}

func TestLedger_UnassignDoesNotCountAttempt(t *testing.T) {
	l := NewLedger[outcome](10)
	mustSubmit(t, l, 1)

	_, epoch, ok := l.Next(0)
	if !ok {
		t.Fatal("expected a task")
	}
	if !l.Unassign(1, epoch) {
		t.Fatal("unassign must succeed for the current assignment")
	}
	if got := l.QueuedLen(); got != 1 {
		t.Fatalf("expected task back in queue, queued = %d", got)
	}

	_, epoch2, ok := l.Next(1)
	if !ok || epoch2 != epoch+1 {
		t.Fatalf("expected reassignment with bumped epoch, got %d ok=%v", epoch2, ok)
	}
	if attempts, ok := l.CrashInFlight(1, epoch2); !ok || attempts != 1 {
		t.Fatalf("unassign must not count as a crash attempt, attempts = %d ok=%v", attempts, ok)
	}
}

func TestLedger_SubmitAfterCloseRejected(t *testing.T) {
	l := NewLedger[outcome](10)
	l.SettleAll(func(t *Task) outcome { return outcome{} })

	out := make(chan outcome, 1)
	err := l.Submit(&Task{ID: 1}, out)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after SettleAll, got %v", err)
	}
}
