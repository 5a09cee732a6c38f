package control

import (
	"fmt"
	"slices"

	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/pkg/format"
)

const noSlice = -1

const (
	ModeUSB = "FDVU"
	ModeLSB = "FDVL"
)

// Slice is the last reported state of one radio slice.
type Slice struct {
	ID int
	// Frequency is kept as the radio sent it, in MHz.
	Frequency string
	Mode      string
	InUse     bool
	IsTx      bool
}

func isWaveformMode(mode string) bool {
	return mode == ModeUSB || mode == ModeLSB
}

func (t *Task) slice(id int) *Slice {
	s, ok := t.slices[id]
	if !ok {
		s = &Slice{ID: id}
		t.slices[id] = s
	}
	return s
}

func (t *Task) onSliceStatus(id int, params map[string]string) {
	s := t.slice(id)

	if tx, ok := params["tx"]; ok {
		s.IsTx = tx == "1"
		if s.IsTx {
			t.txSlice = id
		} else if t.txSlice == id {
			t.txSlice = noSlice
		}
	}

	if freq, ok := params["RF_frequency"]; ok {
		s.Frequency = freq
		if id == t.activeSlice {
			t.publishFrequency(freq)
		}
	}

	if inUse, ok := params["in_use"]; ok {
		s.InUse = inUse == "1"
		if !s.InUse {
			if id == t.activeSlice {
				t.deactivate(id)
			}
			t.removeActive(id)
			if t.txSlice == id {
				t.txSlice = noSlice
			}
			delete(t.slices, id)
			return
		}
	}

	mode, ok := params["mode"]
	if !ok {
		return
	}
	s.Mode = mode
	switch {
	case isWaveformMode(mode):
		if id != t.activeSlice {
			t.activate(id)
		}
		if id == t.activeSlice {
			t.isLSB = mode == ModeLSB
			t.applyFilter()
		}
	case id == t.activeSlice:
		t.deactivate(id)
	default:
		t.removeActive(id)
	}
}

// activate adds id to the active set. The first slice to enter a waveform
// mode becomes the active slice; later ones wait their turn.
func (t *Task) activate(id int) {
	if !slices.Contains(t.active, id) {
		t.active = append(t.active, id)
		slices.Sort(t.active)
	}
	if t.activeSlice != noSlice {
		t.logger.Warn("second slice entered FreeDV mode, keeping current", "slice", id, "active", t.activeSlice)
		return
	}
	t.logger.Info("switching slice to FreeDV mode", "slice", id)
	t.activeSlice = id
	t.sink.Publish(events.UserConnected{Slice: id})
	if freq := t.slices[id].Frequency; freq != "" {
		t.publishFrequency(freq)
	}
}

// deactivate drops the active slice and promotes the next member of the
// active set, if any.
func (t *Task) deactivate(id int) {
	t.logger.Info("slice left FreeDV mode", "slice", id)
	t.sink.Publish(events.UserDisconnected{Slice: id})
	t.removeActive(id)
	t.activeSlice = noSlice
	if len(t.active) > 0 {
		t.activeSlice = t.active[0]
		if s, ok := t.slices[t.activeSlice]; ok {
			t.isLSB = s.Mode == ModeLSB
		}
		t.logger.Info("promoted slice", "slice", t.activeSlice)
	}
}

func (t *Task) removeActive(id int) {
	t.active = slices.DeleteFunc(t.active, func(v int) bool { return v == id })
}

func (t *Task) resetSlices() {
	t.slices = map[int]*Slice{}
	t.active = nil
	t.activeSlice = noSlice
	t.txSlice = noSlice
	t.isLSB = false
}

func (t *Task) publishFrequency(mhz string) {
	hz, err := format.MHzToHz(mhz)
	if err != nil {
		t.logger.Warn("bad slice frequency", "err", err)
		return
	}
	t.logger.Debug("frequency changed", "freq", format.FrequencyHz(hz))
	t.sink.Publish(events.FrequencyChanged{Hz: hz})
}

// applyFilter sends the cached filter width for the active slice, mirrored
// about zero for LSB.
func (t *Task) applyFilter() {
	if t.activeSlice == noSlice {
		return
	}
	low, high := t.filterLow, t.filterHigh
	if t.isLSB {
		low, high = -high, -low
	}
	t.send(fmt.Sprintf("filt %d %d %d", t.activeSlice, low, high), nil)
}

func (t *Task) addSpot(callsign string) {
	if t.activeSlice == noSlice {
		return
	}
	freq := t.slices[t.activeSlice].Frequency
	t.send(fmt.Sprintf("spot add rx_freq=%s callsign=%s mode=FREEDV timestamp=%d", freq, callsign, t.now().Unix()), nil)
}
