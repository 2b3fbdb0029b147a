//go:build darwin

package cpu

import "runtime"

// PinWorker locks the calling goroutine to an OS thread. macOS exposes no
// public thread-affinity API, so the thread is not bound to a core.
func PinWorker(workerID int) func() {
	runtime.LockOSThread()
	return runtime.UnlockOSThread
}
