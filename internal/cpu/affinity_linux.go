//go:build linux

// Package cpu pins worker OS threads to cores so CPU-bound tasks do not
// migrate between caches mid-execution.
package cpu

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// PinWorker locks the calling goroutine to an OS thread and binds that
// thread to core workerID modulo the CPU count. The returned release
// function unlocks the thread and should be deferred.
//
// Pinning failures are ignored: affinity is a performance hint, not a
// correctness requirement.
func PinWorker(workerID int) func() {
	runtime.LockOSThread()

	core := workerID % runtime.NumCPU()
	if core < 0 {
		core += runtime.NumCPU()
	}

	var mask unix.CPUSet
	mask.Zero()
	mask.Set(core)
	_ = unix.SchedSetaffinity(0, &mask) // 0 = current thread

	return runtime.UnlockOSThread
}
