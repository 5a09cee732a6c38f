package events

import (
	"sync"

	"github.com/kc2g-flex-tools/flexdv/pkg/radio"
)

// Event is a marker interface for all radio events
type Event interface {
	isEvent()
}

// Base implementation for all events
type baseEvent struct{}

func (baseEvent) isEvent() {}

// TxState is the waveform's view of the radio interlock.
type TxState int

const (
	Receiving TxState = iota
	Transmitting
	// EndingTx means unkey was requested but the radio is still
	// transmitting, so tail audio can be flushed.
	EndingTx
)

func (s TxState) String() string {
	switch s {
	case Receiving:
		return "receiving"
	case Transmitting:
		return "transmitting"
	case EndingTx:
		return "ending-tx"
	}
	return "unknown"
}

// Connected is fired once the control connection to the radio is up
type Connected struct {
	baseEvent
	Address string
}

// Disconnected is fired when the control connection drops or is torn down
type Disconnected struct {
	baseEvent
}

// TransmitStateChanged is fired when the interlock state changes
type TransmitStateChanged struct {
	baseEvent
	State TxState
}

// CallsignReceived carries the radio's configured callsign
type CallsignReceived struct {
	baseEvent
	Callsign string
}

// GridSquareUpdated carries the grid square reported by the radio's GPS
type GridSquareUpdated struct {
	baseEvent
	Grid string
}

// FrequencyChanged is fired when the active slice tunes
type FrequencyChanged struct {
	baseEvent
	Hz uint64
}

// UserConnected is fired when a slice switches into one of our modes
type UserConnected struct {
	baseEvent
	Slice int
}

// UserDisconnected is fired when the active slice leaves our modes
type UserDisconnected struct {
	baseEvent
	Slice int
}

// RadioDiscovered is fired for every discovery broadcast
type RadioDiscovered struct {
	baseEvent
	Name string
	IP   string
}

// StreamIDsRegistered carries the audio streams the radio assigned
type StreamIDsRegistered struct {
	baseEvent
	Streams radio.StreamSet
}

// StreamIDsCleared is fired when the waveforms are removed
type StreamIDsCleared struct {
	baseEvent
}

// SNRMeterRegistered carries the id of the waveform's SNR meter
type SNRMeterRegistered struct {
	baseEvent
	ID uint16
}

// Sink receives events. Bus is the usual implementation.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Bus provides simple event publish/subscribe
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe creates a new event channel for receiving events
func (b *Bus) Subscribe(bufferSize int) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish sends an event to all subscribers. It blocks on slow subscribers
// so that every subscriber sees every event in order.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		ch <- event
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
}
