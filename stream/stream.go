// Package stream runs the waveform's UDP side: it listens for radio
// discovery broadcasts and exchanges VITA-49 audio and meter packets with
// the chosen radio.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kc2g-flex-tools/flexdv/audio"
	"github.com/kc2g-flex-tools/flexdv/errutil"
	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/keyvalue"
	"github.com/kc2g-flex-tools/flexdv/pkg/radio"
	"github.com/kc2g-flex-tools/flexdv/realtime"
	"github.com/kc2g-flex-tools/flexdv/vita"
	"github.com/kc2g-flex-tools/flexdv/worker"
)

const (
	// DiscoveryPort is where radios broadcast discovery packets.
	DiscoveryPort = 4992
	// RadioAudioPort is the radio's fixed waveform audio port.
	RadioAudioPort = 4993

	MaxPackets = 200
	MaxBatch   = 10
	// MaxSamplesPerPacket is the number of stereo samples a payload holds.
	MaxSamplesPerPacket = vita.MaxSamples / 2
)

const (
	ProfileRealTime = "realtime"
	ProfileSequence = "sequence"
)

type Config struct {
	DiscoveryPort    int           `dialsdesc:"UDP port radios broadcast discovery packets on"`
	RadioAudioPort   int           `dialsdesc:"Radio UDP port that receives waveform audio"`
	PollInterval     time.Duration `dialsdesc:"Upper bound on each socket poll"`
	TxGainDB         float64       `dialsdesc:"Gain applied to audio sent while transmitting, dB"`
	RxGainDB         float64       `dialsdesc:"Gain applied to audio sent while receiving, dB"`
	TimestampProfile string        `dialsdesc:"Outbound timestamp fraction: realtime (nanoseconds) or sequence (packet counter)"`
	RealtimePriority int           `dialsdesc:"SCHED_FIFO priority of the socket goroutine, 0 disables"`
}

func DefaultConfig() *Config {
	return &Config{
		DiscoveryPort:    DiscoveryPort,
		RadioAudioPort:   RadioAudioPort,
		PollInterval:     5250 * time.Microsecond,
		TxGainDB:         9,
		RxGainDB:         0,
		TimestampProfile: ProfileRealTime,
		RealtimePriority: realtime.DefaultPriority,
	}
}

type direction int

const (
	dirRx direction = iota
	dirTx
)

func (d direction) String() string {
	if d == dirTx {
		return "tx"
	}
	return "rx"
}

// Task owns both UDP sockets. Configuration calls are posted to a queue
// that the poll goroutine drains between polls, so everything below the
// sockets is touched by that goroutine alone.
type Task struct {
	cfg    Config
	fifos  audio.Queues
	sink   events.Sink
	rt     realtime.Helper
	logger *log.Logger
	tasks  *worker.Queue
	now    func() time.Time

	disc *socket
	data *socket
	port int

	running  atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once

	ring         *packetRing
	socks        []*socket
	ready        []bool
	radioAddr    *net.UDPAddr
	audioEnabled bool
	transmitting bool
	endingTx     bool

	// stream maps: in id -> out id
	txStreams map[radio.StreamID]radio.StreamID
	rxStreams map[radio.StreamID]radio.StreamID

	outID           [2]radio.StreamID
	samplesRequired [2]int
	seq             [2]uint64
	gain            [2]float32

	inBuf   [MaxSamplesPerPacket]int16
	outBuf  [MaxSamplesPerPacket]int16
	payload vita.SamplePayload
	sendBuf []byte
}

// New opens the discovery and data sockets. The data socket's port is
// available from Port before Start is called.
func New(cfg *Config, fifos audio.Queues, sink events.Sink, rt realtime.Helper, logger *log.Logger) (*Task, error) {
	t := &Task{
		cfg:       *cfg,
		fifos:     fifos,
		sink:      sink,
		rt:        rt,
		logger:    logger.WithPrefix("vita"),
		tasks:     worker.New(),
		now:       time.Now,
		stopped:   make(chan struct{}),
		ring:      newPacketRing(MaxPackets),
		ready:     make([]bool, 2),
		txStreams: map[radio.StreamID]radio.StreamID{},
		rxStreams: map[radio.StreamID]radio.StreamID{},
		payload:   make(vita.SamplePayload, 0, vita.MaxSamples),
		sendBuf:   make([]byte, 0, vita.MaxPacketSize),
	}
	t.gain[dirRx] = float32(audio.GainFromDB(cfg.RxGainDB))
	t.gain[dirTx] = float32(audio.GainFromDB(cfg.TxGainDB))

	discConn, err := reuseListenConfig().ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", cfg.DiscoveryPort))
	if err != nil {
		return nil, fmt.Errorf("listen for discovery: %w", err)
	}
	t.disc, err = newSocket(discConn.(*net.UDPConn))
	if err != nil {
		discConn.Close()
		return nil, err
	}

	dataConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		discConn.Close()
		return nil, fmt.Errorf("listen for audio: %w", err)
	}
	t.data, err = newSocket(dataConn)
	if err != nil {
		discConn.Close()
		dataConn.Close()
		return nil, err
	}
	t.port = dataConn.LocalAddr().(*net.UDPAddr).Port
	return t, nil
}

// Port is the local audio port to advertise to the radio.
func (t *Task) Port() int {
	return t.port
}

// DiscoveryAddr is the local address of the discovery socket.
func (t *Task) DiscoveryAddr() *net.UDPAddr {
	return t.disc.conn.LocalAddr().(*net.UDPAddr)
}

// Start launches the poll goroutine.
func (t *Task) Start() {
	if t.running.Swap(true) {
		return
	}
	go t.run()
}

// Stop joins the poll goroutine and closes both sockets.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		if t.running.Swap(false) {
			<-t.stopped
		}
		t.tasks.Close()
		t.tasks.Drain()
		if t.disc != nil {
			t.disc.conn.Close()
			t.disc = nil
		}
		t.data.conn.Close()
	})
}

// RadioConnected points the data socket at the radio and closes the
// discovery socket.
func (t *Task) RadioConnected(ip string) {
	t.tasks.Post(func() {
		addr, err := resolveRadio(ip, t.cfg.RadioAudioPort)
		if err != nil {
			t.logger.Error("bad radio address", "err", err)
			return
		}
		if err := t.data.connect(addr); err != nil {
			t.logger.Error("could not connect socket to radio", "addr", addr, "err", err)
			return
		}
		t.radioAddr = addr
		t.logger.Info("audio socket connected to radio", "addr", addr)
		if t.disc != nil {
			t.disc.conn.Close()
			t.disc = nil
		}
	})
}

func (t *Task) EnableAudio(enabled bool) {
	t.tasks.Post(func() { t.audioEnabled = enabled })
}

func (t *Task) SetTransmit(tx bool) {
	t.tasks.Post(func() { t.transmitting = tx })
}

// SetEndingTx suppresses writes to the input FIFOs while the radio
// finishes transmitting.
func (t *Task) SetEndingTx(ending bool) {
	t.tasks.Post(func() { t.endingTx = ending })
}

// RegisterStreamIDs allows audio on the given streams. Packets on any
// other stream are dropped.
func (t *Task) RegisterStreamIDs(s radio.StreamSet) {
	t.tasks.Post(func() {
		t.logger.Info("registered streams", "tx_in", s.TxIn, "tx_out", s.TxOut, "rx_in", s.RxIn, "rx_out", s.RxOut)
		t.txStreams[s.TxIn] = s.TxOut
		t.rxStreams[s.RxIn] = s.RxOut
	})
}

func (t *Task) ClearStreamIDs() {
	t.tasks.Post(func() {
		clear(t.txStreams)
		clear(t.rxStreams)
		t.outID = [2]radio.StreamID{}
		t.samplesRequired = [2]int{}
	})
}

// SendMeter reports a single meter reading in dB.
func (t *Task) SendMeter(id uint16, db float32) {
	t.tasks.Post(func() { t.sendMeter(id, db) })
}

// Sync waits until everything posted before it has been applied.
func (t *Task) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !t.tasks.Post(func() { close(done) }) {
		return errors.New("vita task stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) run() {
	defer close(t.stopped)
	if t.rt != nil {
		if err := t.rt.SetRealtime(); err != nil {
			t.logger.Warn("could not raise socket goroutine priority", "err", err)
		}
		defer func() {
			if err := t.rt.ClearRealtime(); err != nil {
				t.logger.Warn("could not restore socket goroutine priority", "err", err)
			}
		}()
	}

	for t.running.Load() {
		t.tasks.Drain()

		t.socks = t.socks[:0]
		if t.disc != nil {
			t.socks = append(t.socks, t.disc)
		}
		t.socks = append(t.socks, t.data)

		if err := waitReadable(t.socks, t.cfg.PollInterval, t.ready); err != nil {
			t.logger.Error("socket poll failed", "err", err)
			time.Sleep(t.cfg.PollInterval)
			continue
		}
		for i, s := range t.socks {
			if t.ready[i] {
				t.readPending(s)
			}
		}
	}
	t.tasks.Drain()
}

func (t *Task) readPending(s *socket) {
	for i := 0; i < MaxBatch; i++ {
		buf := t.ring.Next()
		n, err := s.recv(buf)
		if errors.Is(err, errWouldBlock) {
			return
		}
		if err != nil {
			t.logger.Debug("receive failed", "err", err)
			return
		}
		t.onPacket(buf[:n])
	}
}

func (t *Task) onPacket(b []byte) {
	h, err := vita.DecodeHeader(b)
	if err != nil {
		return
	}
	switch kind := vita.Classify(h); kind {
	case vita.KindDiscovery:
		t.onDiscovery(b)
	case vita.KindWaveformIn:
		t.onAudio(h, b)
	default:
		t.logger.Debug("ignoring packet", "kind", kind, "stream", radio.StreamID(h.StreamID))
	}
}

func (t *Task) onDiscovery(b []byte) {
	p, err := vita.Decode(b)
	if err != nil {
		return
	}
	raw, _ := p.Payload.(vita.RawPayload)
	text := strings.TrimRight(string(raw), "\x00")
	params := keyvalue.Parse(text)

	name := params["nickname"] + " (" + params["callsign"] + ")"
	ip := params["ip"]
	t.logger.Debug("discovered radio", "name", name, "ip", ip)
	t.sink.Publish(events.RadioDiscovered{Name: name, IP: ip})
}

func (t *Task) onAudio(h vita.Header, b []byte) {
	size := h.PayloadSize()
	if vita.HeaderSize+size > len(b) {
		return
	}

	in := radio.StreamID(h.StreamID)
	dir, streams, fifo := dirRx, t.rxStreams, t.fifos.RxIn
	if vita.IsTxDirection(h.StreamID) {
		dir, streams, fifo = dirTx, t.txStreams, t.fifos.TxIn
	}
	out, ok := streams[in]
	if !ok {
		return
	}
	t.outID[dir] = out

	n := decodeStereo(b[vita.HeaderSize:vita.HeaderSize+size], t.inBuf[:])
	if !t.endingTx && !fifo.Write(t.inBuf[:n]) {
		t.logger.Debug("input FIFO full, dropping audio", "dir", dir, "samples", n)
	}
	t.samplesRequired[dir] = n
	t.sendAudioOut()
}

// sendAudioOut emits at most one packet per direction. Audio only flows
// in the direction matching the transmit state; the other output FIFO is
// flushed so stale audio cannot leak into the wrong stream later.
func (t *Task) sendAudioOut() {
	for _, dir := range [...]direction{dirRx, dirTx} {
		if !t.outID[dir].IsValid() {
			continue
		}
		fifo := t.outFIFO(dir)
		if (dir == dirTx) == t.transmitting {
			t.generate(dir, fifo)
		} else {
			fifo.Reset()
		}
	}
}

func (t *Task) outFIFO(dir direction) *audio.FIFO {
	if dir == dirTx {
		return t.fifos.TxOut
	}
	return t.fifos.RxOut
}

func (t *Task) generate(dir direction, fifo *audio.FIFO) {
	n := t.samplesRequired[dir]
	if n == 0 {
		return
	}
	samples := t.outBuf[:n]
	if !fifo.Read(samples) {
		return
	}
	if !t.audioEnabled || t.radioAddr == nil {
		return
	}

	t.payload = encodeStereo(samples, t.gain[dir], t.payload)
	pkt := vita.Packet{
		Header: vita.Header{
			PacketType: vita.PacketTypeIFData,
			StreamID:   uint32(t.outID[dir]),
			ClassID:    vita.AudioClassID,
		},
		Payload: t.payload,
	}
	t.stamp(&pkt.Header, t.seq[dir])
	t.seq[dir]++
	t.send(&pkt)
}

func (t *Task) stamp(h *vita.Header, seq uint64) {
	if t.cfg.TimestampProfile == ProfileSequence {
		vita.SetSequence(h, t.now(), seq)
		return
	}
	vita.SetRealTime(h, t.now(), uint8(seq))
}

func (t *Task) sendMeter(id uint16, db float32) {
	if t.radioAddr == nil {
		return
	}
	pkt := vita.Packet{
		Header: vita.Header{
			PacketType: vita.PacketTypeExtData,
			StreamID:   vita.MeterStreamID,
			ClassID:    vita.MeterClassID,
		},
		Payload: vita.MeterPayload{{ID: id, Value: vita.MeterValue(db)}},
	}
	vita.SetRealTime(&pkt.Header, t.now(), 0)
	t.send(&pkt)
}

func (t *Task) send(p *vita.Packet) {
	b, err := vita.AppendEncode(t.sendBuf[:0], p)
	if err != nil {
		t.logger.Error("could not encode packet", "err", err)
		return
	}
	t.sendBuf = b
	errutil.LogError(t.logger, "socket error while sending", t.data.send(b))
}
