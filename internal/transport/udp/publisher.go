// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"viztap/internal/analysis"
	applog "viztap/internal/log"
)

// ResultProvider supplies the most recent analysis result. A nil result
// means nothing has been analyzed yet.
type ResultProvider interface {
	Latest() *analysis.Result
}

// Publisher drives a Sender on its own clock: each tick it grabs the
// newest analysis result, packs it, and fires a datagram. Decoupling the
// send rate from the analysis cadence lets remote visualizers run at
// their own frame rate; when the analyzer has not produced a fresh result
// the previous one is sent again.
type Publisher struct {
	sender   *Sender
	provider ResultProvider
	interval time.Duration

	// Run state, guarded by mu. A non-nil ticker means running.
	mu       sync.Mutex
	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	seq    uint32 // advances once per datagram, not per result
	packet []byte // reused wire buffer
}

// NewPublisher wires a Sender to a result source. An interval <= 0 falls
// back to 16ms (~60Hz).
func NewPublisher(interval time.Duration, sender *Sender, provider ResultProvider) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp: sender cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("udp: result provider cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("udp: invalid publish interval, defaulting to %s", interval)
	}
	return &Publisher{
		sender:   sender,
		provider: provider,
		interval: interval,
	}, nil
}

// Start launches the publishing goroutine. Calling Start on a running
// publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("udp: Start called on a running publisher")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	// The goroutine works on its own copies; Stop nils the fields under mu.
	ticker, done := p.ticker, p.doneChan
	p.mu.Unlock()

	applog.Infof("udp: publishing every %s", p.interval)
	p.wg.Add(1)
	go p.loop(ticker, done)
}

func (p *Publisher) loop(ticker *time.Ticker, done <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-ticker.C:
			p.publishOnce()
		case <-done:
			return
		}
	}
}

// Stop ends the publishing goroutine and waits for it to exit. Safe to
// call more than once and before Start.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("udp: publisher stopped")
	return nil
}

// publishOnce packs the latest result and sends it. Wire layout, all
// big-endian:
//
//	uint32      sequence number, per datagram
//	int64       analysis timestamp, unix nanoseconds
//	float32     RMS left, linear
//	float32     RMS right, linear
//	uint16      band count N
//	N x float32 normalized band levels in [0,1]
//
// Repeated sends of one result carry the same timestamp, so receivers can
// deduplicate when the publisher outpaces the analyzer.
func (p *Publisher) publishOnce() {
	res := p.provider.Latest()
	if res == nil {
		return // nothing analyzed yet
	}

	p.seq++
	buf := p.packet[:0]
	buf = binary.BigEndian.AppendUint32(buf, p.seq)
	buf = binary.BigEndian.AppendUint64(buf, uint64(res.Time.UnixNano()))
	buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(res.RMS[0])))
	buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(res.RMS[1])))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(res.Bands)))
	for _, v := range res.Bands {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
	p.packet = buf

	if err := p.sender.Send(buf); err != nil {
		// Routine when no receiver is listening, so keep it below Info.
		applog.Debugf("udp: packet %d not sent: %v", p.seq, err)
		return
	}
	applog.Debugf("udp: sent packet %d (%d bytes)", p.seq, len(buf))
}

// Close stops the publisher. The Sender is closed separately by its owner.
func (p *Publisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*Publisher)(nil)
