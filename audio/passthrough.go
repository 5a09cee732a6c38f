package audio

import (
	"context"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// Passthrough stands in for a modem: it copies received audio straight
// back out (RxIn to RxOut and TxIn to TxOut) every interval.
type Passthrough struct {
	q        Queues
	interval time.Duration
	logger   *log.Logger
	buf      []int16

	// OnRxLevel, if set, receives the level in dBFS of each chunk of
	// received audio moved.
	OnRxLevel func(dbfs float32)
}

func NewPassthrough(q Queues, interval time.Duration, logger *log.Logger) *Passthrough {
	return &Passthrough{
		q:        q,
		interval: interval,
		logger:   logger.WithPrefix("passthrough"),
		buf:      make([]int16, SampleRate),
	}
}

// Run moves audio until ctx is cancelled.
func (p *Passthrough) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Step()
		}
	}
}

// Step performs a single copy pass.
func (p *Passthrough) Step() {
	if rx := p.move(p.q.RxIn, p.q.RxOut, "rx"); len(rx) > 0 && p.OnRxLevel != nil {
		p.OnRxLevel(LevelDBFS(rx))
	}
	p.move(p.q.TxIn, p.q.TxOut, "tx")
}

func (p *Passthrough) move(from, to *FIFO, dir string) []int16 {
	n := min(from.Len(), len(p.buf))
	if n == 0 {
		return nil
	}
	chunk := p.buf[:n]
	if !from.Read(chunk) {
		return nil
	}
	if !to.Write(chunk) {
		p.logger.Debug("output full, dropping audio", "dir", dir, "samples", n)
	}
	return chunk
}

// LevelDBFS is the RMS level of samples relative to full scale, floored
// at -100 dB.
func LevelDBFS(samples []int16) float32 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32767
		sum += f * f
	}
	db := 10 * math.Log10(sum/float64(len(samples)))
	if math.IsInf(db, -1) || db < -100 {
		return -100
	}
	return float32(db)
}
