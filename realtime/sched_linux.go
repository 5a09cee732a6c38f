//go:build linux

package realtime

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Scheduler switches the calling thread to SCHED_FIFO.
type Scheduler struct {
	Priority int
}

func NewScheduler(priority int) *Scheduler {
	return &Scheduler{Priority: priority}
}

func (s *Scheduler) SetRealtime() error {
	runtime.LockOSThread()
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(s.Priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr SCHED_FIFO(%d) on tid %d: %w", s.Priority, unix.Gettid(), err)
	}
	return nil
}

func (s *Scheduler) ClearRealtime() error {
	defer runtime.UnlockOSThread()
	attr := unix.SchedAttr{
		Size:   unix.SizeofSchedAttr,
		Policy: unix.SCHED_NORMAL,
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr SCHED_NORMAL: %w", err)
	}
	return nil
}
