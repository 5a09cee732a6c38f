package control

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/pkg/radio"
)

const testUDPPort = 50123

type lineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *lineWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(w.buf.String(), "\n"), "\n")
}

func (w *lineWriter) Last() string {
	lines := w.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) Count(want events.Event) int {
	n := 0
	for _, e := range r.Events() {
		if e == want {
			n++
		}
	}
	return n
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ResponseTimeout = 10 * time.Second
	cfg.PingInterval = time.Hour
	return cfg
}

func newTestTask(t *testing.T, cfg *Config) (*Task, *lineWriter, *recorder) {
	t.Helper()
	w := &lineWriter{}
	rec := &recorder{}
	task := New(cfg, testUDPPort, w, rec, log.New(io.Discard))
	task.now = func() time.Time { return time.Unix(1700000000, 0) }
	t.Cleanup(func() {
		task.post(func() {
			task.stopPing()
			task.stopResponseTimer()
		})
		task.q.Close()
		<-task.q.Done()
	})
	task.OnConnect("192.0.2.10")
	syncTask(t, task)
	return task, w, rec
}

func syncTask(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, task.Sync(ctx))
}

func feed(t *testing.T, task *Task, lines ...string) {
	t.Helper()
	for _, l := range lines {
		task.OnReceive([]byte(l + "\n"))
	}
	syncTask(t, task)
}

func pendingCount(task *Task) int {
	ch := make(chan int, 1)
	task.post(func() { ch <- len(task.pending) })
	return <-ch
}

// waitCommand waits for a command ending in suffix and returns its
// sequence number.
func waitCommand(t *testing.T, w *lineWriter, suffix string) int {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.HasSuffix(w.Last(), "|"+suffix)
	}, 2*time.Second, time.Millisecond, "waiting for %q, last %q", suffix, w.Last())
	var seq int
	_, err := fmt.Sscanf(w.Last(), "C%d|", &seq)
	require.NoError(t, err)
	return seq
}

func TestConnectPublishes(t *testing.T) {
	_, w, rec := newTestTask(t, testConfig())
	assert.Empty(t, w.Lines())
	assert.Equal(t, []events.Event{events.Connected{Address: "192.0.2.10"}}, rec.Events())
}

func TestHandshake(t *testing.T) {
	task, w, _ := newTestTask(t, testConfig())

	feed(t, task, "V1.4.0.0", "H1A2B")
	assert.Equal(t, []string{
		"C0|waveform remove FreeDV-USB",
		"C1|waveform create name=FreeDV-USB mode=FDVU underlying_mode=DIGU version=2.0.0",
		"C2|waveform remove FreeDV-LSB",
		"C3|waveform create name=FreeDV-LSB mode=FDVL underlying_mode=DIGL version=2.0.0",
	}, w.Lines())

	feed(t, task, "R0|0|", "R1|0|", "R2|0|", "R3|0|")
	assert.Equal(t, []string{
		"C0|waveform remove FreeDV-USB",
		"C1|waveform create name=FreeDV-USB mode=FDVU underlying_mode=DIGU version=2.0.0",
		"C2|waveform remove FreeDV-LSB",
		"C3|waveform create name=FreeDV-LSB mode=FDVL underlying_mode=DIGL version=2.0.0",
		"C4|waveform set FreeDV-USB tx=1",
		"C5|waveform set FreeDV-USB rx_filter depth=256",
		"C6|waveform set FreeDV-USB tx_filter depth=256",
		"C7|waveform set FreeDV-USB udpport=50123",
		"C8|waveform set FreeDV-LSB tx=1",
		"C9|waveform set FreeDV-LSB rx_filter depth=256",
		"C10|waveform set FreeDV-LSB tx_filter depth=256",
		"C11|waveform set FreeDV-LSB udpport=50123",
		"C12|sub slice all",
		"C13|sub gps all",
	}, w.Lines())
}

func TestFailedCreateSkipsSetCommands(t *testing.T) {
	task, w, _ := newTestTask(t, testConfig())

	feed(t, task, "H1A2B", "R1|50000015|Waveform exists", "R3|0|")
	assert.Equal(t, []string{
		"C0|waveform remove FreeDV-USB",
		"C1|waveform create name=FreeDV-USB mode=FDVU underlying_mode=DIGU version=2.0.0",
		"C2|waveform remove FreeDV-LSB",
		"C3|waveform create name=FreeDV-LSB mode=FDVL underlying_mode=DIGL version=2.0.0",
		"C4|waveform set FreeDV-LSB tx=1",
		"C5|waveform set FreeDV-LSB rx_filter depth=256",
		"C6|waveform set FreeDV-LSB tx_filter depth=256",
		"C7|waveform set FreeDV-LSB udpport=50123",
		"C8|sub slice all",
		"C9|sub gps all",
	}, w.Lines())
}

func TestStreamIDsFromCreateResponse(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	feed(t, task, "H1A2B", "R1|0|tx_in=0x81000001 tx_out=0x01000001 rx_in=0x81000000 rx_out=0x01000000")
	assert.Equal(t, 1, rec.Count(events.StreamIDsRegistered{Streams: radio.StreamSet{
		TxIn: 0x81000001, TxOut: 0x01000001, RxIn: 0x81000000, RxOut: 0x01000000,
	}}))
}

func TestSNRMeter(t *testing.T) {
	cfg := testConfig()
	cfg.SNRMeter = true
	task, w, rec := newTestTask(t, cfg)

	feed(t, task, "H1A2B", "R1|0|", "R3|0|")
	seq := waitCommand(t, w, "meter create name=snr type=WAVEFORM min=-100.0 max=100.0 unit=DB")
	feed(t, task, fmt.Sprintf("R%d|0|7", seq))
	assert.Equal(t, 1, rec.Count(events.SNRMeterRegistered{ID: 7}))
}

func TestSNRMeterBadID(t *testing.T) {
	cfg := testConfig()
	cfg.SNRMeter = true
	task, w, rec := newTestTask(t, cfg)

	feed(t, task, "H1A2B", "R1|0|", "R3|0|")
	seq := waitCommand(t, w, "meter create name=snr type=WAVEFORM min=-100.0 max=100.0 unit=DB")
	feed(t, task, fmt.Sprintf("R%d|0|snr", seq))
	for _, e := range rec.Events() {
		assert.NotEqual(t, "events.SNRMeterRegistered", fmt.Sprintf("%T", e))
	}
}

func TestResponseCorrelation(t *testing.T) {
	task, _, _ := newTestTask(t, testConfig())

	type call struct {
		cmd string
		rv  uint32
		msg string
	}
	var calls []call
	for _, cmd := range []string{"zero", "one", "two"} {
		task.Send(cmd, func(rv uint32, msg string) {
			calls = append(calls, call{cmd, rv, msg})
		})
	}
	feed(t, task, "R2|0|two", "R1|5|one", "R0|0 zero")

	assert.Equal(t, []call{
		{"two", 0, "two"},
		{"one", 5, "one"},
		{"zero", 0, "zero"},
	}, calls)
	assert.Zero(t, pendingCount(task))
}

func TestTimeoutCompleteness(t *testing.T) {
	cfg := testConfig()
	cfg.ResponseTimeout = 20 * time.Millisecond
	task, _, _ := newTestTask(t, cfg)

	var mu sync.Mutex
	fired := map[string]int{}
	for _, cmd := range []string{"a", "b", "c"} {
		task.Send(cmd, func(rv uint32, msg string) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, ResponseTimeout, rv)
			assert.Equal(t, "timed out", msg)
			fired[cmd]++
		})
	}
	task.Send("d", nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 3
	}, 2*time.Second, time.Millisecond)

	// a late response and a second timer period change nothing
	feed(t, task, "R0|0|late")
	time.Sleep(60 * time.Millisecond)
	syncTask(t, task)

	mu.Lock()
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, fired)
	mu.Unlock()
	assert.Zero(t, pendingCount(task))
}

func TestSliceActivationIdempotent(t *testing.T) {
	task, w, rec := newTestTask(t, testConfig())

	feed(t, task,
		"S1|slice 0 RF_frequency=14.236000 mode=FDVU in_use=1",
		"S1|slice 0 mode=FDVU",
	)
	assert.Equal(t, 1, rec.Count(events.UserConnected{Slice: 0}))
	assert.Equal(t, 1, rec.Count(events.FrequencyChanged{Hz: 14236000}))
	assert.Equal(t, "C1|filt 0 750 2250", w.Last())

	feed(t, task, "S1|slice 0 RF_frequency=14.237500")
	assert.Equal(t, 1, rec.Count(events.FrequencyChanged{Hz: 14237500}))
}

func TestLSBFilterMirroring(t *testing.T) {
	task, w, _ := newTestTask(t, testConfig())

	feed(t, task, "S1|slice 2 RF_frequency=7.177000 mode=FDVL")
	assert.Equal(t, "C0|filt 2 -2250 -750", w.Last())

	task.SetFilter(750, 2250)
	syncTask(t, task)
	assert.Equal(t, "C1|filt 2 -2250 -750", w.Last())

	feed(t, task, "S1|slice 2 mode=FDVU")
	assert.Equal(t, "C2|filt 2 750 2250", w.Last())
}

func TestSetFilterWithoutActiveSlice(t *testing.T) {
	task, w, _ := newTestTask(t, testConfig())

	task.SetFilter(300, 2700)
	feed(t, task, "S1|slice 0 mode=FDVU")
	assert.Equal(t, []string{"C0|filt 0 300 2700"}, w.Lines())
}

func TestSecondSliceAndPromotion(t *testing.T) {
	task, w, rec := newTestTask(t, testConfig())

	feed(t, task,
		"S1|slice 0 RF_frequency=14.236000 mode=FDVU",
		"S1|slice 1 RF_frequency=7.177000 mode=FDVL",
	)
	assert.Equal(t, 1, rec.Count(events.UserConnected{Slice: 0}))
	assert.Zero(t, rec.Count(events.UserConnected{Slice: 1}))

	feed(t, task, "S1|slice 0 mode=USB")
	assert.Equal(t, 1, rec.Count(events.UserDisconnected{Slice: 0}))

	task.AddSpot("K6AQ")
	syncTask(t, task)
	assert.Equal(t, "C1|spot add rx_freq=7.177000 callsign=K6AQ mode=FREEDV timestamp=1700000000", w.Last())

	feed(t, task, "S1|slice 1 in_use=0")
	assert.Equal(t, 1, rec.Count(events.UserDisconnected{Slice: 1}))

	task.AddSpot("K6AQ")
	syncTask(t, task)
	assert.Len(t, w.Lines(), 2)
}

func TestInUseZeroOnInactiveSlice(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	feed(t, task, "S1|slice 0 mode=FDVU", "S1|slice 3 in_use=0")
	assert.Zero(t, rec.Count(events.UserDisconnected{Slice: 0}))
	assert.Zero(t, rec.Count(events.UserDisconnected{Slice: 3}))
}

func TestInterlockTransitions(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	feed(t, task, "S1|slice 0 tx=1 mode=FDVU")
	feed(t, task, "S1|interlock state=PTT_REQUESTED#source=PTT")
	assert.Equal(t, 1, rec.Count(events.TransmitStateChanged{State: events.Transmitting}))

	feed(t, task, "S1|interlock state=UNKEY_REQUESTED")
	assert.Equal(t, 1, rec.Count(events.TransmitStateChanged{State: events.EndingTx}))

	feed(t, task, "S1|interlock state=READY")
	assert.Equal(t, 1, rec.Count(events.TransmitStateChanged{State: events.Receiving}))

	feed(t, task, "S1|interlock state=TRANSMITTING", "S1|interlock state=READY")
	assert.Equal(t, 1, rec.Count(events.TransmitStateChanged{State: events.Receiving}))
}

func TestInterlockIgnoresTuneAndOtherSlices(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	feed(t, task, "S1|slice 0 tx=1 mode=FDVU", "S1|interlock state=PTT_REQUESTED source=TUNE")
	assert.Zero(t, rec.Count(events.TransmitStateChanged{State: events.Transmitting}))

	feed(t, task, "S1|slice 1 tx=1 mode=USB", "S1|interlock state=PTT_REQUESTED source=PTT")
	assert.Zero(t, rec.Count(events.TransmitStateChanged{State: events.Transmitting}))
}

func TestInterlockFollowsTxSlice(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	feed(t, task, "S1|slice 0 tx=1 mode=FDVU", "S1|slice 0 tx=0")
	feed(t, task, "S1|interlock state=PTT_REQUESTED source=PTT")
	assert.Zero(t, rec.Count(events.TransmitStateChanged{State: events.Transmitting}), "tx moved off the waveform slice")

	feed(t, task, "S1|slice 0 tx=1")
	feed(t, task, "S1|interlock state=PTT_REQUESTED source=PTT")
	assert.Equal(t, 1, rec.Count(events.TransmitStateChanged{State: events.Transmitting}))
}

func TestRemovedTxSliceNoLongerKeys(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	feed(t, task, "S1|slice 0 tx=1 mode=FDVU", "S1|slice 0 in_use=0")
	// the slice is reopened without a tx flag
	feed(t, task, "S1|slice 0 mode=FDVU")
	feed(t, task, "S1|interlock state=PTT_REQUESTED source=PTT")
	assert.Zero(t, rec.Count(events.TransmitStateChanged{State: events.Transmitting}))
}

func TestRadioAndGPSStatus(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	feed(t, task,
		"S1|radio slices=4 callsign=K6AQ nickname=Shack",
		"S1|gps lat=38.4#lon=-122.7#grid=CM88ts#altitude=10 m",
		"S1|meter 1.nam=SNR",
	)
	assert.Equal(t, 1, rec.Count(events.CallsignReceived{Callsign: "K6AQ"}))
	assert.Equal(t, 1, rec.Count(events.GridSquareUpdated{Grid: "CM88ts"}))
}

func TestLineReassembly(t *testing.T) {
	task, _, rec := newTestTask(t, testConfig())

	task.OnReceive([]byte("S1|radio call"))
	task.OnReceive([]byte("sign=K6AQ\r\nS1|gps grid=CM"))
	syncTask(t, task)
	assert.Equal(t, 1, rec.Count(events.CallsignReceived{Callsign: "K6AQ"}))
	assert.Zero(t, rec.Count(events.GridSquareUpdated{Grid: "CM"}))

	feed(t, task, "88")
	assert.Equal(t, 1, rec.Count(events.GridSquareUpdated{Grid: "CM88"}))
}

func TestPing(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 10 * time.Millisecond
	task, w, _ := newTestTask(t, cfg)

	feed(t, task, "H1A2B")
	waitCommand(t, w, "ping")
}

func TestCloseRunsTeardownChain(t *testing.T) {
	task, w, rec := newTestTask(t, testConfig())
	feed(t, task, "S1|slice 1 mode=FDVL")

	closed := make(chan error, 1)
	go func() { closed <- task.Close(context.Background()) }()

	steps := []string{
		"slice set 1 mode=LSB",
		"unsub slice all",
		"waveform remove FreeDV-USB",
		"waveform remove FreeDV-LSB",
	}
	for _, step := range steps {
		seq := waitCommand(t, w, step)
		select {
		case err := <-closed:
			t.Fatalf("closed before %q acknowledged: %v", step, err)
		default:
		}
		task.OnReceive([]byte(fmt.Sprintf("R%d|0|\n", seq)))
	}

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	evs := rec.Events()
	assert.Contains(t, evs, events.UserDisconnected{Slice: 1})
	assert.Equal(t, events.StreamIDsCleared{}, evs[len(evs)-1])
	assert.ErrorIs(t, task.Sync(context.Background()), ErrClosed)
}

func TestCloseCompletesOnTimeouts(t *testing.T) {
	cfg := testConfig()
	cfg.ResponseTimeout = 10 * time.Millisecond
	task, w, _ := newTestTask(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, task.Close(ctx))
	assert.Equal(t, []string{
		"C0|unsub slice all",
		"C1|waveform remove FreeDV-USB",
		"C2|waveform remove FreeDV-LSB",
	}, w.Lines())
}

func TestDisconnectDuringClose(t *testing.T) {
	task, w, rec := newTestTask(t, testConfig())

	closed := make(chan error, 1)
	go func() { closed <- task.Close(context.Background()) }()
	waitCommand(t, w, "unsub slice all")
	task.OnDisconnect()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Len(t, w.Lines(), 1)
	assert.Equal(t, 1, rec.Count(events.Disconnected{}))
	assert.Equal(t, 1, rec.Count(events.StreamIDsCleared{}))
}

func TestDisconnectResetsState(t *testing.T) {
	task, w, rec := newTestTask(t, testConfig())

	feed(t, task, "S1|slice 0 tx=1 mode=FDVU", "S1|interlock state=PTT_REQUESTED source=PTT")
	task.Send("pending", func(uint32, string) { t.Error("pending callback invoked after disconnect") })
	task.OnDisconnect()
	syncTask(t, task)

	assert.Equal(t, 1, rec.Count(events.UserDisconnected{Slice: 0}))
	assert.Equal(t, 1, rec.Count(events.TransmitStateChanged{State: events.Receiving}))
	assert.Zero(t, pendingCount(task))

	task.OnConnect("192.0.2.10")
	feed(t, task, "H1")
	assert.True(t, strings.HasPrefix(w.Last(), "C3|"), "sequence restarts on reconnect: %q", w.Last())
}
