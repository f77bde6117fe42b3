// SPDX-License-Identifier: MIT
package spectrogram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"audiopipe/internal/broadcast"
	applog "audiopipe/internal/log"
	"audiopipe/internal/observe"
)

const ServiceName = "spectrogram"

// Service feeds pipe frames into an Analyzer and publishes the queued
// columns on a ticker, so the update rate is independent of the input rate.
// It runs in a separate goroutine managed by Start and Stop.
type Service struct {
	analyzer   *Analyzer
	hub        *broadcast.Hub
	interval   time.Duration
	maxColumns int
	metrics    *observe.Metrics
	log        *applog.Logger

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	seq    uint32
	packet []byte
}

// NewService wraps analyzer. A non-positive interval defaults to 100ms.
func NewService(analyzer *Analyzer, interval time.Duration, maxColumns int, m *observe.Metrics) (*Service, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("Spectrogram: analyzer cannot be nil")
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
		applog.Warnf("Spectrogram: Invalid interval provided, defaulting to %s", interval)
	}
	if maxColumns < 1 {
		maxColumns = 1
	}
	m = observe.OrDefault(m)
	s := &Service{
		analyzer:   analyzer,
		hub:        broadcast.NewHub(ServiceName, m),
		interval:   interval,
		maxColumns: maxColumns,
		metrics:    m,
		log:        applog.New("Spectrogram"),
	}
	s.log.Infof("Initializing (Interval: %s, Bins: %d, Hop: %d)", interval, analyzer.Bins(), analyzer.Hop())
	return s, nil
}

func (s *Service) Connect(sub broadcast.Subscriber) error { return s.hub.Connect(sub) }
func (s *Service) Disconnect(sub broadcast.Subscriber)     { s.hub.Disconnect(sub) }
func (s *Service) Subscribers() int                        { return s.hub.Len() }

// Consume feeds a pipe frame to the analyzer. With no subscribers the frame
// is discarded along with any buffered analysis state.
func (s *Service) Consume(frame []byte) error {
	if s.hub.Len() == 0 {
		s.analyzer.Reset()
		return nil
	}
	return s.analyzer.Write(frame)
}

// Start begins the periodic publishing loop. Calling Start on a running
// service is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		s.log.Warnf("Start called but already running.")
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.doneChan = make(chan struct{})
	s.stopOnce = sync.Once{}
	ticker, done := s.ticker, s.doneChan
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("Publisher goroutine started (Interval: %s)", s.interval)
		for {
			select {
			case <-ticker.C:
				s.publish()
			case <-done:
				s.log.Infof("Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it. Safe to call
// more than once.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		s.log.Debugf("Stop called but not running.")
		return nil
	}
	s.stopOnce.Do(func() {
		close(s.doneChan)
		s.ticker.Stop()
		s.ticker = nil
	})
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Infof("Publisher goroutine finished.")
	return nil
}

// publish sends the newest queued columns, at most maxColumns of them.
func (s *Service) publish() {
	cols := s.analyzer.Drain(s.maxColumns)
	if len(cols) == 0 || s.hub.Len() == 0 {
		return
	}
	s.seq++
	var err error
	s.packet, err = AppendFrame(s.packet[:0], Frame{
		Seq:        s.seq,
		Timestamp:  time.Now().UnixNano(),
		SampleRate: uint32(s.analyzer.SampleRate()),
		Bins:       s.analyzer.Bins(),
		Columns:    cols,
	})
	if err != nil {
		s.log.Errorf("Error packing frame: %v", err)
		return
	}
	ctx := context.Background()
	n := s.hub.Broadcast(ctx, s.packet)
	s.metrics.SpectrogramColumns.Add(ctx, int64(len(cols)))
	s.log.Debugf("Sent frame %d (%d columns, %d bytes) to %d subscribers", s.seq, len(cols), len(s.packet), n)
}

// Close stops publishing and closes every subscriber.
func (s *Service) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.hub.Close()
}

var _ broadcast.Registry = (*Service)(nil)
