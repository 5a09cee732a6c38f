package control

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kc2g-flex-tools/flexdv/errutil"
)

func (t *Task) send(command string, fn ResponseFunc) {
	seq := t.seq
	t.seq++
	t.logger.Debug("sending command", "seq", seq, "cmd", command)
	_, err := io.WriteString(t.w, fmt.Sprintf("C%d|%s\n", seq, command))
	errutil.LogError(t.logger, "command send failed", err)
	t.pending[seq] = fn
	t.restartResponseTimer()
}

// handleResponse processes "R<seq>|<hex rv>|<message>". Some firmware
// separates the message with a space instead of a pipe.
func (t *Task) handleResponse(line string) {
	seqStr, rest, ok := strings.Cut(line[1:], "|")
	if !ok {
		t.logger.Warn("malformed response", "line", line)
		return
	}
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		t.logger.Warn("malformed response sequence", "line", line, "err", err)
		return
	}
	rvStr, message := rest, ""
	if i := strings.IndexAny(rest, "| "); i >= 0 {
		rvStr, message = rest[:i], rest[i+1:]
	}
	rv64, err := strconv.ParseUint(rvStr, 16, 32)
	if err != nil {
		t.logger.Warn("malformed response code", "line", line, "err", err)
		rv64 = uint64(ResponseTimeout)
	}
	rv := uint32(rv64)
	if rv != 0 {
		t.logger.Error("command returned error", "seq", seq, "rv", fmt.Sprintf("%08X", rv), "message", message)
	}

	fn, found := t.pending[uint32(seq)]
	delete(t.pending, uint32(seq))
	if !found {
		t.logger.Debug("response for unknown command", "seq", seq)
	}
	if fn != nil {
		fn(rv, message)
	}
	if len(t.pending) == 0 {
		t.stopResponseTimer()
	}
}

// restartResponseTimer arms the single shared response timer. Timers
// superseded by a later restart or stop are ignored when they fire.
func (t *Task) restartResponseTimer() {
	t.stopResponseTimer()
	gen := t.timerGen
	t.respTimer = time.AfterFunc(t.cfg.ResponseTimeout, func() {
		t.post(func() {
			if gen == t.timerGen {
				t.onResponseTimeout()
			}
		})
	})
}

func (t *Task) stopResponseTimer() {
	t.timerGen++
	if t.respTimer != nil {
		t.respTimer.Stop()
		t.respTimer = nil
	}
}

func (t *Task) onResponseTimeout() {
	t.respTimer = nil
	t.logger.Warn("timed out waiting for response from radio", "pending", len(t.pending))
	pending := t.pending
	t.pending = map[uint32]ResponseFunc{}
	for _, seq := range slices.Sorted(maps.Keys(pending)) {
		if fn := pending[seq]; fn != nil {
			t.logger.Warn("failing command", "seq", seq)
			fn(ResponseTimeout, "timed out")
		}
	}
}

func (t *Task) startPing() {
	t.stopPing()
	stop := make(chan struct{})
	t.pingStop = stop
	interval := t.cfg.PingInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.post(func() {
					if t.connected {
						t.send("ping", nil)
					}
				})
			}
		}
	}()
}

func (t *Task) stopPing() {
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
}
