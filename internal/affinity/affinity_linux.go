//go:build linux

// Package affinity pins the calling goroutine's OS thread to a specific
// CPU, for the hot-path workers that spec §5 requires be isolated on
// dedicated cores.
//
// Grounded directly on the ioLoop thread-pinning code in go-ublk's
// internal/queue runner: runtime.LockOSThread followed by
// unix.SchedSetaffinity on a unix.CPUSet, with a non-fatal log-and-continue
// on failure rather than aborting the worker.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and restricts
// that thread to cpuIdx. The caller must not call runtime.UnlockOSThread
// itself — Pin owns the lock for the lifetime of the worker goroutine,
// mirroring the teacher's ioLoop which locks once at the top of a
// goroutine that runs until shutdown.
//
// Returns an error if the syscall fails; callers should log and continue
// rather than treat it as fatal (spec §7: "affinity failures degrade
// performance, not correctness").
func Pin(cpuIdx int) error {
	runtime.LockOSThread()

	var mask unix.CPUSet
	mask.Set(cpuIdx)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		return fmt.Errorf("affinity: SchedSetaffinity(cpu=%d): %w", cpuIdx, err)
	}
	return nil
}

// Unpin releases the OS thread lock taken by Pin. Call it only from the
// same goroutine that called Pin, typically in a deferred statement right
// after a successful worker startup.
func Unpin() {
	runtime.UnlockOSThread()
}

// SetRealtimeFIFO additionally requests SCHED_FIFO scheduling at priority
// for the calling thread. Best-effort: most containerized environments deny
// CAP_SYS_NICE, so a failure here is expected and non-fatal.
func SetRealtimeFIFO(priority int) error {
	param := unix.SchedParam{Priority: int32(priority)}
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &param); err != nil {
		return fmt.Errorf("affinity: SchedSetscheduler(SCHED_FIFO, prio=%d): %w", priority, err)
	}
	return nil
}
