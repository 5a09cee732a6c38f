package control

import (
	"fmt"
	"math"
	"strings"

	"github.com/kc2g-flex-tools/flexdv/errutil"
	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/keyvalue"
	"github.com/kc2g-flex-tools/flexdv/pkg/radio"
)

// Waveform is a digital mode registered with the radio.
type Waveform struct {
	Name           string
	Mode           string
	UnderlyingMode string
}

var Waveforms = [2]Waveform{
	{Name: "FreeDV-USB", Mode: ModeUSB, UnderlyingMode: "DIGU"},
	{Name: "FreeDV-LSB", Mode: ModeLSB, UnderlyingMode: "DIGL"},
}

const waveformVersion = "2.0.0"

// initializeWaveforms registers both waveforms and, once the radio has
// answered both create commands, subscribes to slice and GPS updates.
func (t *Task) initializeWaveforms() {
	t.creating = len(Waveforms)
	for _, wf := range Waveforms {
		t.createWaveform(wf)
	}
	t.startPing()
}

func (t *Task) createWaveform(wf Waveform) {
	t.send("waveform remove "+wf.Name, nil)
	create := fmt.Sprintf("waveform create name=%s mode=%s underlying_mode=%s version=%s",
		wf.Name, wf.Mode, wf.UnderlyingMode, waveformVersion)
	t.send(create, func(rv uint32, message string) {
		if rv == 0 {
			t.configureWaveform(wf, message)
		} else {
			t.logger.Error("waveform create failed", "name", wf.Name, "rv", fmt.Sprintf("%08X", rv), "message", message)
		}
		t.creating--
		if t.creating == 0 {
			t.subscribe()
		}
	})
}

func (t *Task) configureWaveform(wf Waveform, message string) {
	prefix := "waveform set " + wf.Name + " "
	t.send(prefix+"tx=1", nil)
	t.send(prefix+"rx_filter depth=256", nil)
	t.send(prefix+"tx_filter depth=256", nil)
	t.send(fmt.Sprintf("%sudpport=%d", prefix, t.udpPort), nil)

	if streams, ok := radio.ParseStreamSet(keyvalue.Parse(message)); ok {
		t.logger.Info("waveform streams", "name", wf.Name,
			"tx_in", streams.TxIn, "tx_out", streams.TxOut, "rx_in", streams.RxIn, "rx_out", streams.RxOut)
		t.sink.Publish(events.StreamIDsRegistered{Streams: streams})
	}
}

func (t *Task) subscribe() {
	if !t.connected {
		return
	}
	t.send("sub slice all", nil)
	t.send("sub gps all", nil)
	if t.cfg.SNRMeter {
		t.send("meter create name=snr type=WAVEFORM min=-100.0 max=100.0 unit=DB", func(rv uint32, message string) {
			if rv != 0 {
				t.logger.Warn("meter create failed", "rv", fmt.Sprintf("%08X", rv))
				return
			}
			id := errutil.MustParseUint32(t.logger, strings.TrimSpace(message), 10, "meter id")
			if id == 0 || id > math.MaxUint16 {
				t.logger.Warn("meter create returned no usable id", "message", message)
				return
			}
			t.logger.Info("registered SNR meter", "id", id)
			t.sink.Publish(events.SNRMeterRegistered{ID: uint16(id)})
		})
	}
}

type teardownState int

const (
	teardownIdle teardownState = iota
	teardownSliceReverting
	teardownUnsubscribing
	teardownRemovingWaveformA
	teardownRemovingWaveformB
	teardownClosed
)

func (s teardownState) String() string {
	return [...]string{"idle", "slice-reverting", "unsubscribing", "removing-waveform-a", "removing-waveform-b", "closed"}[s]
}

func (t *Task) beginTeardown() {
	switch {
	case t.teardown == teardownClosed, !t.connected:
		t.finishTeardown()
	case t.teardown == teardownIdle:
		t.advanceTeardown()
	}
}

// advanceTeardown moves the teardown machine one step. Each step's command
// response drives the next one.
func (t *Task) advanceTeardown() {
	if !t.connected {
		t.finishTeardown()
		return
	}
	if t.activeSlice != noSlice {
		mode := "USB"
		if t.isLSB {
			mode = "LSB"
		}
		t.setTeardown(teardownSliceReverting)
		id := t.activeSlice
		t.send(fmt.Sprintf("slice set %d mode=%s", id, mode), func(uint32, string) {
			t.sink.Publish(events.UserDisconnected{Slice: id})
			t.active = nil
			t.activeSlice = noSlice
			t.advanceTeardown()
		})
		return
	}

	t.setTeardown(teardownUnsubscribing)
	t.send("unsub slice all", func(uint32, string) {
		t.setTeardown(teardownRemovingWaveformA)
		t.send("waveform remove "+Waveforms[0].Name, func(uint32, string) {
			t.setTeardown(teardownRemovingWaveformB)
			t.send("waveform remove "+Waveforms[1].Name, func(uint32, string) {
				t.finishTeardown()
			})
		})
	})
}

func (t *Task) setTeardown(s teardownState) {
	t.logger.Debug("teardown", "state", s)
	t.teardown = s
}

// finishTeardown marks the waveforms gone and releases Close waiters. A
// plain disconnect with no teardown in progress leaves the task reusable.
func (t *Task) finishTeardown() {
	switch t.teardown {
	case teardownIdle:
		if len(t.waiters) == 0 {
			return
		}
	case teardownClosed:
	default:
		t.sink.Publish(events.StreamIDsCleared{})
	}
	t.setTeardown(teardownClosed)
	t.stopPing()
	for _, w := range t.waiters {
		close(w)
	}
	t.waiters = nil
}
