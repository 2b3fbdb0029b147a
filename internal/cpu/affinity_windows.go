//go:build windows

package cpu

import (
	"runtime"

	"golang.org/x/sys/windows"
)

var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinity = kernel32.NewProc("SetThreadAffinityMask")
)

// PinWorker locks the calling goroutine to an OS thread and binds that
// thread to core workerID modulo the CPU count via SetThreadAffinityMask.
// The returned release function unlocks the thread.
func PinWorker(workerID int) func() {
	runtime.LockOSThread()

	core := workerID % runtime.NumCPU()
	if core < 0 {
		core += runtime.NumCPU()
	}
	if core < 64 {
		mask := uintptr(1) << uint(core)
		_, _, _ = procSetThreadAffinity.Call(uintptr(windows.CurrentThread()), mask)
	}

	return runtime.UnlockOSThread
}
