// SPDX-License-Identifier: MIT
package livestream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"audiopipe/internal/config"
	applog "audiopipe/internal/log"
	"audiopipe/internal/pcm"
	"audiopipe/internal/workpool"
	"audiopipe/pkg/utils"
)

func TestMain(m *testing.M) {
	applog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type countingEncoder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingEncoder) Encode(raw []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte("enc:"), raw...), nil
}

func (c *countingEncoder) ContentType() string { return "test/counting" }

func (c *countingEncoder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestService(t *testing.T, enc Encoder) *Service {
	t.Helper()
	pool := workpool.New("test", 2)
	t.Cleanup(pool.Close)
	return NewService(enc, pool, nil)
}

func TestStreamChunkNoSubscribers(t *testing.T) {
	enc := &countingEncoder{}
	s := newTestService(t, enc)
	for i := 0; i < 10; i++ {
		if err := s.StreamChunk(context.Background(), []byte{1, 2}); err != nil {
			t.Fatal(err)
		}
	}
	if enc.count() != 0 {
		t.Errorf("encoder called %d times with no subscribers", enc.count())
	}
}

func TestStreamChunkDropsFailingSubscriber(t *testing.T) {
	enc := &countingEncoder{}
	s := newTestService(t, enc)
	subs := []*utils.MockSubscriber{{Name: "a"}, {Name: "b", Fail: true}, {Name: "c"}}
	for _, sub := range subs {
		_ = s.Connect(sub)
	}

	if err := s.StreamChunk(context.Background(), []byte{9, 9}); err != nil {
		t.Fatalf("StreamChunk() error = %v", err)
	}
	if s.Subscribers() != 2 {
		t.Errorf("Subscribers() = %d, want 2", s.Subscribers())
	}
	if enc.count() != 1 {
		t.Errorf("encoder called %d times, want 1", enc.count())
	}
	want := []byte("enc:\x09\x09")
	for _, sub := range []*utils.MockSubscriber{subs[0], subs[2]} {
		if m := sub.Messages(); len(m) != 1 || !bytes.Equal(m[0], want) {
			t.Errorf("%s got %q", sub.Name, m)
		}
	}
}

func TestStreamChunkPreservesOrder(t *testing.T) {
	s := newTestService(t, PCMEncoder{})
	sub := &utils.MockSubscriber{Name: "a"}
	_ = s.Connect(sub)
	for i := 0; i < 50; i++ {
		_ = s.StreamChunk(context.Background(), []byte{byte(i), 0})
	}
	msgs := sub.Messages()
	if len(msgs) != 50 {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i, m := range msgs {
		if m[0] != byte(i) {
			t.Fatalf("message %d out of order: %v", i, m)
		}
	}
}

func TestStreamChunkEncodeError(t *testing.T) {
	enc := &countingEncoder{err: errors.New("codec broke")}
	s := newTestService(t, enc)
	sub := &utils.MockSubscriber{Name: "a"}
	_ = s.Connect(sub)
	if err := s.StreamChunk(context.Background(), []byte{1, 2}); err == nil {
		t.Error("expected encode error")
	}
	if len(sub.Messages()) != 0 || s.Subscribers() != 1 {
		t.Errorf("encode failure should not touch subscribers")
	}
}

func TestDisconnectAndClose(t *testing.T) {
	s := newTestService(t, PCMEncoder{})
	a, b := &utils.MockSubscriber{Name: "a"}, &utils.MockSubscriber{Name: "b"}
	_ = s.Connect(a)
	_ = s.Connect(b)
	s.Disconnect(a)
	s.Disconnect(a)
	if s.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d", s.Subscribers())
	}
	_ = s.Close()
	if b.Closed() != 1 || s.Subscribers() != 0 {
		t.Errorf("Close(): closed=%d subscribers=%d", b.Closed(), s.Subscribers())
	}
}

func TestOpusEncoderFraming(t *testing.T) {
	enc, err := NewOpusEncoder(48000, 1, 64000)
	if err != nil {
		t.Fatal(err)
	}
	// 1.5 frames of 960 samples.
	samples := utils.GenerateSineWave(1440, 48000, 440)
	out, err := enc.Encode(pcm.AppendBytes(nil, samples))
	if err != nil {
		t.Fatal(err)
	}
	if enc.Pending() != 480 {
		t.Errorf("Pending() = %d, want 480", enc.Pending())
	}
	packets := 0
	for len(out) > 0 {
		if len(out) < 2 {
			t.Fatalf("truncated length prefix")
		}
		n := int(binary.BigEndian.Uint16(out))
		if n == 0 || len(out) < 2+n {
			t.Fatalf("bad packet length %d with %d bytes left", n, len(out))
		}
		out = out[2+n:]
		packets++
	}
	if packets != 1 {
		t.Errorf("got %d packets, want 1", packets)
	}

	// The carried 480 samples plus 480 new ones complete a second frame.
	out, err = enc.Encode(pcm.AppendBytes(nil, samples[:480]))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) == 0 || enc.Pending() != 0 {
		t.Errorf("second chunk: %d bytes out, %d pending", len(out), enc.Pending())
	}

	if _, err := enc.Encode([]byte{1}); !errors.Is(err, pcm.ErrOddLength) {
		t.Errorf("odd chunk error = %v, want ErrOddLength", err)
	}
}

func TestNewEncoder(t *testing.T) {
	cfg := config.Default().Livestream
	cfg.Codec = config.CodecPCM
	enc, err := NewEncoder(cfg, 48000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if enc.ContentType() != "audio/L16" {
		t.Errorf("ContentType() = %q", enc.ContentType())
	}
	cfg.Codec = "mp3"
	if _, err := NewEncoder(cfg, 48000, 1); err == nil {
		t.Error("expected unknown codec error")
	}
	cfg.Codec = config.CodecOpus
	if _, err := NewEncoder(cfg, 44100, 1); err == nil {
		t.Error("expected opus to reject 44100 Hz")
	}
}
