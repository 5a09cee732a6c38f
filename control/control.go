// Package control speaks the SmartSDR TCP command protocol on behalf of the
// FreeDV waveform: it installs the waveforms, tracks slices and the
// interlock, and tears everything down again on close.
package control

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/worker"
)

// Port is the radio's TCP command port.
const Port = 4992

// ResponseTimeout is passed to callbacks whose command got no response.
const ResponseTimeout uint32 = 0xFFFFFFFF

var ErrClosed = errors.New("control task closed")

type Config struct {
	ResponseTimeout time.Duration `dialsdesc:"How long to wait for a command response before failing all pending commands"`
	PingInterval    time.Duration `dialsdesc:"Keepalive ping period"`
	FilterLow       int           `dialsdesc:"Low cut of the slice filter applied on activation, Hz"`
	FilterHigh      int           `dialsdesc:"High cut of the slice filter applied on activation, Hz"`
	SNRMeter        bool          `dialsdesc:"Register an SNR meter with the radio"`
}

func DefaultConfig() *Config {
	return &Config{
		ResponseTimeout: 500 * time.Millisecond,
		PingInterval:    10 * time.Second,
		FilterLow:       750,
		FilterHigh:      2250,
	}
}

// ResponseFunc receives a command's return code and message.
type ResponseFunc func(rv uint32, message string)

type TxState = events.TxState

// Task is the control-channel state machine. All state is owned by a
// single worker goroutine; the exported methods post closures to it.
type Task struct {
	cfg     Config
	udpPort int
	w       io.Writer
	sink    events.Sink
	logger  *log.Logger
	now     func() time.Time
	q       *worker.Queue

	connected bool
	address   string
	line      []byte
	seq       uint32
	pending   map[uint32]ResponseFunc

	respTimer *time.Timer
	timerGen  uint64
	pingStop  chan struct{}

	slices      map[int]*Slice
	active      []int
	activeSlice int
	txSlice     int
	isLSB       bool
	filterLow   int
	filterHigh  int
	txState     TxState

	creating int
	teardown teardownState
	waiters  []chan struct{}
}

// New creates a task that writes commands to w and advertises udpPort as
// the waveforms' audio port.
func New(cfg *Config, udpPort int, w io.Writer, sink events.Sink, logger *log.Logger) *Task {
	t := &Task{
		cfg:         *cfg,
		udpPort:     udpPort,
		w:           w,
		sink:        sink,
		logger:      logger.WithPrefix("control"),
		now:         time.Now,
		q:           worker.New(),
		pending:     map[uint32]ResponseFunc{},
		slices:      map[int]*Slice{},
		activeSlice: noSlice,
		txSlice:     noSlice,
		filterLow:   cfg.FilterLow,
		filterHigh:  cfg.FilterHigh,
	}
	go t.q.Run()
	return t
}

func (t *Task) post(f func()) bool {
	return t.q.Post(f)
}

// OnConnect resets per-connection state once the TCP connection to the
// radio at address is established.
func (t *Task) OnConnect(address string) {
	t.post(func() {
		t.logger.Info("connected to radio", "address", address)
		t.connected = true
		t.address = address
		t.seq = 0
		t.line = t.line[:0]
		t.pending = map[uint32]ResponseFunc{}
		t.teardown = teardownIdle
		t.creating = 0
		t.txState = events.Receiving
		t.sink.Publish(events.Connected{Address: address})
	})
}

// OnReceive feeds raw bytes from the socket. Lines may be split across
// calls.
func (t *Task) OnReceive(b []byte) {
	buf := append([]byte(nil), b...)
	t.post(func() {
		for _, c := range buf {
			if c != '\n' {
				t.line = append(t.line, c)
				continue
			}
			line := string(t.line)
			t.line = t.line[:0]
			t.processLine(line)
		}
	})
}

// OnDisconnect drops all connection state. Pending commands are discarded
// without invoking their callbacks and an in-progress teardown completes.
func (t *Task) OnDisconnect() {
	t.post(func() {
		if !t.connected {
			return
		}
		t.logger.Info("disconnected from radio", "address", t.address)
		t.connected = false
		t.stopPing()
		t.stopResponseTimer()
		t.pending = map[uint32]ResponseFunc{}
		t.line = t.line[:0]
		t.creating = 0
		if t.activeSlice != noSlice {
			t.sink.Publish(events.UserDisconnected{Slice: t.activeSlice})
		}
		t.resetSlices()
		t.setTxState(events.Receiving)
		t.sink.Publish(events.Disconnected{})
		t.finishTeardown()
	})
}

// Send issues an arbitrary command. fn may be nil.
func (t *Task) Send(command string, fn ResponseFunc) {
	t.post(func() { t.send(command, fn) })
}

// SetFilter changes the filter applied to the active slice.
func (t *Task) SetFilter(low, high int) {
	t.post(func() {
		t.filterLow, t.filterHigh = low, high
		t.applyFilter()
	})
}

// AddSpot posts a spot for callsign on the active slice's frequency.
func (t *Task) AddSpot(callsign string) {
	t.post(func() { t.addSpot(callsign) })
}

// Sync waits until everything posted before it has run.
func (t *Task) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !t.post(func() { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close reverts the active slice, unsubscribes and removes both waveforms,
// waiting for the radio to acknowledge each step. The task is unusable
// afterwards.
func (t *Task) Close(ctx context.Context) error {
	done := make(chan struct{})
	if !t.post(func() {
		t.waiters = append(t.waiters, done)
		t.beginTeardown()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := t.Sync(ctx); err != nil {
		return err
	}
	t.post(func() {
		t.stopPing()
		t.stopResponseTimer()
	})
	t.q.Close()
	<-t.q.Done()
	return nil
}
