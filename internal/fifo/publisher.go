// SPDX-License-Identifier: MIT
package fifo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	applog "audiopipe/internal/log"
	"audiopipe/internal/observe"
	"audiopipe/internal/pcm"
)

// frameWriter is the part of Writer a Publisher needs.
type frameWriter interface {
	WriteFrame(p []byte) error
	Close() error
}

// Publisher frames PCM blocks for one channel and hands the frames to a
// writer goroutine through a bounded queue. Push never blocks: when the
// queue is full the frame is dropped and counted.
type Publisher struct {
	name    string
	writer  frameWriter
	framer  *Framer
	metrics *observe.Metrics
	log     *applog.Logger

	queue    chan []byte
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	pushMu  sync.Mutex
	scratch []byte

	written atomic.Uint64
	dropped atomic.Uint64
}

func newPublisher(name string, frameSize, depth int, w frameWriter, m *observe.Metrics) *Publisher {
	if depth <= 0 {
		depth = 1
	}
	return &Publisher{
		name:    name,
		writer:  w,
		framer:  NewFramer(frameSize),
		metrics: observe.OrDefault(m),
		log:     applog.New("Publisher[" + name + "]"),
		queue:   make(chan []byte, depth),
	}
}

// Push serialises b and queues every completed frame.
func (p *Publisher) Push(b pcm.Block) {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()
	p.scratch = pcm.AppendBytes(p.scratch[:0], b.Samples)
	p.framer.Write(p.scratch, p.enqueue)
}

func (p *Publisher) enqueue(frame []byte) {
	select {
	case p.queue <- frame:
	default:
		n := p.dropped.Add(1)
		p.metrics.RecordFIFOFrame(context.Background(), p.name, "dropped_queue")
		if n == 1 || n%100 == 0 {
			p.log.Warnf("queue full, %d frames dropped so far", n)
		}
	}
}

// Start launches the writer goroutine. Calling Start on a running
// publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.log.Warnf("Start called but already running.")
		return
	}
	p.running = true
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	done := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.log.Debugf("writer goroutine started")
		for {
			select {
			case frame := <-p.queue:
				p.write(frame)
			case <-done:
				p.log.Debugf("writer goroutine received stop signal.")
				return
			}
		}
	}()
}

func (p *Publisher) write(frame []byte) {
	err := p.writer.WriteFrame(frame)
	status := "written"
	switch {
	case err == nil:
		p.written.Add(1)
	case errors.Is(err, ErrNoReader):
		status = "no_reader"
	case errors.Is(err, ErrPipeFull):
		status = "pipe_full"
		p.log.Debugf("pipe full, frame dropped")
	default:
		status = "error"
		p.log.Errorf("write failed: %v", err)
	}
	p.metrics.RecordFIFOFrame(context.Background(), p.name, status)
}

// Stop signals the writer goroutine and waits for it. Queued frames that
// were not yet written are discarded. Safe to call more than once.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.running = false
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debugf("writer goroutine finished.")
	return nil
}

// Close stops the publisher and releases the pipe descriptor.
func (p *Publisher) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	return p.writer.Close()
}

// Written returns the number of frames delivered to the pipe.
func (p *Publisher) Written() uint64 { return p.written.Load() }

// Dropped returns the number of frames dropped because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Bus fans each captured block out to every publisher.
type Bus struct {
	publishers []*Publisher
}

func NewBus(publishers ...*Publisher) *Bus {
	return &Bus{publishers: publishers}
}

// Push queues b on every channel.
func (b *Bus) Push(block pcm.Block) {
	for _, p := range b.publishers {
		p.Push(block)
	}
}

func (b *Bus) Start() {
	for _, p := range b.publishers {
		p.Start()
	}
}

// Close stops every publisher and closes its descriptor.
func (b *Bus) Close() error {
	var errs []error
	for _, p := range b.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
