package fileserver

import (
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/transfer"
)

// progressLogger logs the progress of a transfer at most once per interval.
type progressLogger struct {
	log      log.Logger
	clock    mclock.Clock
	interval time.Duration
	name     string
	total    int64

	start     mclock.AbsTime
	lastTime  mclock.AbsTime
	lastBytes int64
	speed     *sma
}

func newProgressLogger(cfg *Config, logger log.Logger, name string, total int64) *progressLogger {
	now := cfg.Clock.Now()
	return &progressLogger{
		log:      logger,
		clock:    cfg.Clock,
		interval: cfg.ProgressInterval,
		name:     name,
		total:    total,
		start:    now,
		lastTime: now,
		speed:    newSMA(10),
	}
}

// report is called by the transfer engine after every chunk.
func (p *progressLogger) report(bytes int64) {
	now := p.clock.Now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.interval {
		return
	}
	p.speed.sample(float64(bytes-p.lastBytes) / elapsed.Seconds())
	p.lastTime, p.lastBytes = now, bytes

	ctx := []interface{}{"file", p.name, "done", common.StorageSize(bytes)}
	if p.total > 0 {
		ctx = append(ctx, "total", common.StorageSize(p.total), "percent", fmt.Sprintf("%.1f%%", 100*float64(bytes)/float64(p.total)))
	}
	ctx = append(ctx, "speed", p.speedString())
	p.log.Info("Transferring", ctx...)
}

func (p *progressLogger) speedString() string {
	return fmt.Sprintf("%v/s", common.StorageSize(math.Round(p.speed.value())))
}

// finish logs the result of the transfer.
func (p *progressLogger) finish(stats transfer.Stats, err error) {
	elapsed := p.clock.Now().Sub(p.start)
	if err != nil {
		p.log.Warn("Transfer failed", "file", p.name, "chunks", stats.Chunks, "retransmits", stats.Retransmits, "err", err)
		return
	}
	p.log.Info("Transfer complete", "file", p.name, "size", common.StorageSize(stats.Bytes),
		"chunks", stats.Chunks, "retransmits", stats.Retransmits, "elapsed", common.PrettyDuration(elapsed))
}

// sma implements a simple moving average.
type sma struct {
	samples []float64
	i       int
}

func newSMA(nsamples int) *sma {
	return &sma{
		samples: make([]float64, 0, nsamples),
	}
}

// sample adds a new sample.
func (s *sma) sample(v float64) {
	if len(s.samples) < cap(s.samples) {
		s.samples = append(s.samples, v)
	} else {
		s.samples[s.i] = v
		s.i = (s.i + 1) % len(s.samples)
	}
}

// value returns the average of the collected samples.
func (s *sma) value() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	var sum float64
	for i := range s.samples {
		sum += s.samples[i]
	}
	return sum / float64(len(s.samples))
}
