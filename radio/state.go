// Package radio hosts the waveform: it picks a radio, owns the TCP
// connection the control task talks over and relays control events to the
// stream task.
package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kc2g-flex-tools/flexdv/control"
	"github.com/kc2g-flex-tools/flexdv/events"
	"github.com/kc2g-flex-tools/flexdv/persistence"
	"github.com/kc2g-flex-tools/flexdv/pkg/format"
	radioid "github.com/kc2g-flex-tools/flexdv/pkg/radio"
)

type Config struct {
	Address          string        `dialsdesc:"Radio IP address; skips discovery when set"`
	DiscoveryTimeout time.Duration `dialsdesc:"How long to wait for a discovery broadcast before using the remembered radio"`
	ReconnectDelay   time.Duration `dialsdesc:"Delay before redialling a dropped control connection"`
	DialTimeout      time.Duration `dialsdesc:"TCP connect timeout"`
	ShutdownTimeout  time.Duration `dialsdesc:"Upper bound on waveform teardown at exit"`
}

func DefaultConfig() *Config {
	return &Config{
		DiscoveryTimeout: 10 * time.Second,
		ReconnectDelay:   5 * time.Second,
		DialTimeout:      5 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	}
}

// Stream is the part of the stream task the host drives.
type Stream interface {
	Port() int
	RadioConnected(ip string)
	EnableAudio(enabled bool)
	SetTransmit(tx bool)
	SetEndingTx(ending bool)
	RegisterStreamIDs(s radioid.StreamSet)
	ClearStreamIDs()
	SendMeter(id uint16, db float32)
}

type Dialer func(ctx context.Context, address string) (net.Conn, error)

// State ties one control task to successive TCP connections.
type State struct {
	cfg     Config
	ctrlCfg control.Config
	bus     *events.Bus
	stream  Stream
	store   *persistence.RadioStore
	logger  *log.Logger
	dial    Dialer

	control *control.Task
	writer  *connWriter
	found   chan string
	events  <-chan events.Event

	mu       sync.Mutex
	meterID  uint16
	hasMeter bool
	closed   bool
}

// NewState creates the host and subscribes it to bus, so events published
// before Run starts are kept. store may be nil, in which case the radio
// address is not remembered.
func NewState(cfg *Config, ctrlCfg *control.Config, bus *events.Bus, stream Stream, store *persistence.RadioStore, logger *log.Logger) *State {
	s := &State{
		cfg:     *cfg,
		ctrlCfg: *ctrlCfg,
		bus:     bus,
		stream:  stream,
		store:   store,
		logger:  logger.WithPrefix("radio"),
		writer:  &connWriter{},
		found:   make(chan string, 8),
		events:  bus.Subscribe(100),
	}
	var d net.Dialer
	s.dial = func(ctx context.Context, address string) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
		return d.DialContext(ctx, "tcp4", address)
	}
	return s
}

// Run dispatches events, connects to the radio and keeps reconnecting
// until ctx is cancelled. The waveforms are removed before it returns.
func (s *State) Run(ctx context.Context) error {
	go s.dispatch(s.events)
	s.control = control.New(&s.ctrlCfg, s.stream.Port(), s.writer, s.bus, s.logger)

	ip, err := s.chooseRadio(ctx)
	if err != nil {
		return s.shutdown(err)
	}
	for {
		err := s.session(ctx, ip)
		if ctx.Err() != nil {
			return s.shutdown(nil)
		}
		s.logger.Warn("control connection lost", "err", err, "retry", s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return s.shutdown(nil)
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// chooseRadio prefers the configured address, then the first discovered
// radio. If discovery is quiet for DiscoveryTimeout the remembered address
// is used; without one discovery continues until ctx ends.
func (s *State) chooseRadio(ctx context.Context) (string, error) {
	if s.cfg.Address != "" {
		return s.cfg.Address, nil
	}
	s.logger.Info("waiting for radio discovery", "timeout", s.cfg.DiscoveryTimeout)
	timeout := time.After(s.cfg.DiscoveryTimeout)
	for {
		select {
		case ip := <-s.found:
			return ip, nil
		case <-timeout:
			timeout = nil
			if s.store == nil {
				continue
			}
			if ip, err := s.store.Load(); err == nil {
				s.logger.Info("no radio discovered, using last radio", "ip", ip)
				return ip, nil
			}
			s.logger.Warn("no radio discovered and none remembered, still listening")
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (s *State) session(ctx context.Context, ip string) error {
	address := net.JoinHostPort(ip, strconv.Itoa(control.Port))
	conn, err := s.dial(ctx, address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	s.writer.set(conn)
	s.control.OnConnect(ip)
	if s.store != nil {
		if err := s.store.Save(ip); err != nil {
			s.logger.Warn("could not remember radio", "err", err)
		}
	}

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				s.control.OnReceive(buf[:n])
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case err := <-readErr:
		s.control.OnDisconnect()
		s.writer.set(nil)
		conn.Close()
		if errors.Is(err, io.EOF) {
			err = errors.New("radio closed the connection")
		}
		return err
	case <-ctx.Done():
		// The reader keeps running so teardown responses arrive.
		s.closeControl()
		s.writer.set(nil)
		conn.Close()
		<-readErr
		return nil
	}
}

func (s *State) closeControl() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.control.Close(ctx); err != nil {
		s.logger.Error("waveform teardown did not finish", "err", err)
	}
}

func (s *State) shutdown(err error) error {
	s.closeControl()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ReportSNR forwards a reading to the radio's SNR meter once one has been
// registered.
func (s *State) ReportSNR(db float32) {
	s.mu.Lock()
	id, ok := s.meterID, s.hasMeter
	s.mu.Unlock()
	if ok {
		s.stream.SendMeter(id, db)
	}
}

func (s *State) dispatch(ch <-chan events.Event) {
	for event := range ch {
		switch e := event.(type) {
		case events.RadioDiscovered:
			s.logger.Info("discovered radio", "name", e.Name, "ip", e.IP)
			select {
			case s.found <- e.IP:
			default:
			}
		case events.Connected:
			s.stream.ClearStreamIDs()
			s.stream.EnableAudio(true)
			s.stream.RadioConnected(e.Address)
		case events.Disconnected:
			s.mu.Lock()
			s.hasMeter = false
			s.mu.Unlock()
		case events.TransmitStateChanged:
			s.logger.Info("transmit state", "state", e.State)
			if e.State == events.EndingTx {
				s.stream.SetEndingTx(true)
				continue
			}
			s.stream.SetEndingTx(false)
			s.stream.SetTransmit(e.State == events.Transmitting)
		case events.StreamIDsRegistered:
			s.stream.RegisterStreamIDs(e.Streams)
		case events.StreamIDsCleared:
			s.stream.ClearStreamIDs()
		case events.SNRMeterRegistered:
			s.mu.Lock()
			s.meterID, s.hasMeter = e.ID, true
			s.mu.Unlock()
		case events.CallsignReceived:
			s.logger.Info("radio callsign", "callsign", e.Callsign)
		case events.GridSquareUpdated:
			s.logger.Info("grid square", "grid", e.Grid)
		case events.FrequencyChanged:
			s.logger.Debug("frequency", "mhz", format.FrequencyHz(e.Hz))
		case events.UserConnected:
			s.logger.Info("waveform selected", "slice", e.Slice)
		case events.UserDisconnected:
			s.logger.Info("waveform deselected", "slice", e.Slice)
		}
	}
}

// connWriter is the control task's writer. It follows the current TCP
// connection and fails writes while there is none.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

var errNotConnected = errors.New("not connected to radio")

func (w *connWriter) set(c net.Conn) {
	w.mu.Lock()
	w.conn = c
	w.mu.Unlock()
}

func (w *connWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return 0, errNotConnected
	}
	return w.conn.Write(b)
}
