//go:build !linux

// Fallback for non-Linux build targets, where SCHED_FIFO and
// sched_setaffinity have no equivalent exposed by golang.org/x/sys/unix.
package affinity

// Pin is a no-op outside Linux; callers still run correctly, just without
// the core-pinning guarantee spec §5 asks for on Linux deployments.
func Pin(cpuIdx int) error { return nil }

// Unpin is a no-op outside Linux.
func Unpin() {}

// SetRealtimeFIFO is a no-op outside Linux.
func SetRealtimeFIFO(priority int) error { return nil }
