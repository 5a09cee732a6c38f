// Package realtime raises the scheduling priority of latency sensitive
// goroutines.
package realtime

// Helper raises and restores the scheduling priority of the calling
// goroutine. SetRealtime locks the goroutine to its OS thread; Clear must
// be called from the same goroutine.
type Helper interface {
	SetRealtime() error
	ClearRealtime() error
}

// Noop leaves scheduling alone.
type Noop struct{}

func (Noop) SetRealtime() error   { return nil }
func (Noop) ClearRealtime() error { return nil }

// DefaultPriority is the SCHED_FIFO priority used for audio I/O.
const DefaultPriority = 50
