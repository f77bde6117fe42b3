// SPDX-License-Identifier: MIT

// Package livestream encodes PCM chunks from the livestream pipe and
// broadcasts them to connected listeners.
package livestream

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"audiopipe/internal/broadcast"
	applog "audiopipe/internal/log"
	"audiopipe/internal/observe"
	"audiopipe/internal/workpool"
)

const ServiceName = "livestream"

// Service owns the livestream subscriber set. Encoding runs on a worker
// pool; broadcasting happens on the caller's goroutine once the encode
// finishes, so chunks reach each subscriber in submission order.
type Service struct {
	hub     *broadcast.Hub
	enc     Encoder
	pool    *workpool.Pool
	metrics *observe.Metrics
	log     *applog.Logger
}

func NewService(enc Encoder, pool *workpool.Pool, m *observe.Metrics) *Service {
	m = observe.OrDefault(m)
	return &Service{
		hub:     broadcast.NewHub(ServiceName, m),
		enc:     enc,
		pool:    pool,
		metrics: m,
		log:     applog.New("Livestream"),
	}
}

func (s *Service) Connect(sub broadcast.Subscriber) error { return s.hub.Connect(sub) }
func (s *Service) Disconnect(sub broadcast.Subscriber)     { s.hub.Disconnect(sub) }
func (s *Service) Subscribers() int                        { return s.hub.Len() }

// ContentType reports the media type of broadcast chunks.
func (s *Service) ContentType() string { return s.enc.ContentType() }

// StreamChunk encodes raw and sends the result to every subscriber. With
// no subscribers it returns at once without encoding. Delivery failures
// drop the failing subscriber and are not returned.
func (s *Service) StreamChunk(ctx context.Context, raw []byte) error {
	if s.hub.Len() == 0 {
		return nil
	}

	var encoded []byte
	err := s.pool.Do(ctx, func(context.Context) error {
		start := time.Now()
		out, err := s.enc.Encode(raw)
		s.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("codec", s.enc.ContentType())))
		encoded = out
		return err
	})
	if err != nil {
		s.log.Errorf("encode failed: %v", err)
		return fmt.Errorf("encode chunk: %w", err)
	}
	if len(encoded) == 0 {
		return nil
	}
	n := s.hub.Broadcast(ctx, encoded)
	s.log.Debugf("sent %d bytes to %d subscribers", len(encoded), n)
	return nil
}

// Consume adapts the service to a pipe reader sink.
func (s *Service) Consume(frame []byte) error {
	return s.StreamChunk(context.Background(), frame)
}

// Close disconnects and closes every subscriber.
func (s *Service) Close() error {
	return s.hub.Close()
}

var _ broadcast.Registry = (*Service)(nil)
