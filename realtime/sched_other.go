//go:build !linux

package realtime

import "runtime"

// Scheduler only pins the goroutine to its thread on this platform.
type Scheduler struct {
	Priority int
}

func NewScheduler(priority int) *Scheduler {
	return &Scheduler{Priority: priority}
}

func (s *Scheduler) SetRealtime() error {
	runtime.LockOSThread()
	return nil
}

func (s *Scheduler) ClearRealtime() error {
	runtime.UnlockOSThread()
	return nil
}
