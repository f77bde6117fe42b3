// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"audiopipe/internal/broadcast"
	"audiopipe/internal/capture"
	"audiopipe/internal/config"
	"audiopipe/internal/daemon"
	"audiopipe/internal/fifo"
	"audiopipe/internal/filter"
	applog "audiopipe/internal/log"
	"audiopipe/internal/livestream"
	"audiopipe/internal/observe"
	"audiopipe/internal/spectrogram"
	"audiopipe/internal/workpool"
	"audiopipe/pkg/build"
)

var log = applog.New("Main")

var _ capture.Sink = (*fifo.Bus)(nil)

// process is the shared shape of every daemon: background tasks run in an
// errgroup until the shutdown flag is set or one of them fails, then the
// lifecycle tears everything down in registration order.
type process struct {
	cfg   *config.Config
	name  string
	lc    *daemon.Lifecycle
	group *errgroup.Group
	ctx   context.Context
}

func runProcess(cfg *config.Config, name string, setup func(p *process) error) error {
	state := &daemon.State{}
	stopSignals := daemon.InstallSignalHandler(state)
	defer stopSignals()

	lc := daemon.NewLifecycle(state, cfg.Daemon.PollInterval)
	return lc.Guard(func() error {
		ctx, cancel := context.WithCancel(context.Background())
		group, gctx := errgroup.WithContext(ctx)
		p := &process{cfg: cfg, name: name, lc: lc, group: group, ctx: gctx}

		lc.OnTeardown("background tasks", func() error {
			cancel()
			return waitGroup(group, cfg.Daemon.StopTimeout)
		})
		if cfg.Metrics.Enabled {
			shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    "audiopipe-" + name,
				ServiceVersion: build.Get().Version,
			})
			if err != nil {
				return fmt.Errorf("failed to init metrics: %w", err)
			}
			// Registered on return so the provider is shut down last.
			defer lc.OnTeardown("metrics provider", func() error {
				sctx, scancel := context.WithTimeout(context.Background(), cfg.Daemon.StopTimeout)
				defer scancel()
				return shutdown(sctx)
			})
		}

		if err := setup(p); err != nil {
			return err
		}
		log.Infof("%s running, waiting for shutdown signal", name)

		if err := lc.Wait(gctx); err != nil {
			// A background task failed before shutdown was requested.
			if gerr := waitGroup(group, cfg.Daemon.StopTimeout); gerr != nil {
				return gerr
			}
			return err
		}
		log.Infof("%s shutting down", name)
		return nil
	})
}

// waitGroup waits for g, giving up after timeout.
func waitGroup(g *errgroup.Group, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("background tasks did not stop within %s", timeout)
	}
}

// serve runs srv until the process context ends.
func (p *process) serve(srv *http.Server) {
	p.group.Go(func() error {
		log.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	p.group.Go(func() error {
		<-p.ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Daemon.StopTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// serveMetrics exposes /metrics on the configured address, if any.
func (p *process) serveMetrics() {
	if !p.cfg.Metrics.Enabled || p.cfg.Metrics.ListenAddress == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler())
	p.serve(&http.Server{Addr: p.cfg.Metrics.ListenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
}

// runReader starts r and reports its exit to the group, so a missing pipe
// ends the process.
func (p *process) runReader(r *fifo.Reader) {
	r.Start(p.ctx)
	done := r.Done()
	p.group.Go(func() error {
		<-done
		return r.Err()
	})
	p.lc.OnTeardown("fifo reader", r.Close)
}

func openBackend(cfg config.AudioConfig) (capture.Backend, func() error, error) {
	switch cfg.Backend {
	case config.BackendWAV:
		return capture.NewWAVBackend(cfg.WAVFile, true), func() error { return nil }, nil
	default:
		b, err := capture.NewPortAudioBackend()
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
}

func newChannels(cfg config.FIFOConfig) (analysis, live fifo.Channel, err error) {
	analysis, err = fifo.NewChannel(fifo.AnalysisPath(cfg.BasePath), cfg.AnalysisBlockBytes)
	if err != nil {
		return
	}
	live, err = fifo.NewChannel(fifo.LivestreamPath(cfg.BasePath), cfg.LivestreamBlockBytes)
	return
}

// runCapture is the producer: device → chain → both pipes.
func runCapture(cfg *config.Config) error {
	return runProcess(cfg, "capture", func(p *process) error {
		analysisCh, liveCh, err := newChannels(cfg.FIFO)
		if err != nil {
			return err
		}
		for _, ch := range []fifo.Channel{analysisCh, liveCh} {
			if err := ch.Ensure(); err != nil {
				return err
			}
		}

		m := observe.DefaultMetrics()
		var pubs []*fifo.Publisher
		for _, ch := range []fifo.Channel{analysisCh, liveCh} {
			pub, err := fifo.NewPublisher(ch, cfg.FIFO.QueueDepth, ch.NewWriter(cfg.FIFO.WriteTimeout), m)
			if err != nil {
				return err
			}
			pubs = append(pubs, pub)
		}
		bus := fifo.NewBus(pubs...)

		chain, err := filter.Build(cfg.Filters)
		if err != nil {
			return err
		}
		backend, closeBackend, err := openBackend(cfg.Audio)
		if err != nil {
			return err
		}
		src := capture.NewSource(backend, chain, bus, capture.Options{
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			LowLatency:      cfg.Audio.LowLatency,
			RefreshDevices:  cfg.Audio.RefreshDevices,
			Metrics:         m,
		})

		bus.Start()
		p.lc.OnTeardown("fifo writers", bus.Close)
		p.lc.OnTeardown("capture device", src.StopCapture)
		p.lc.OnTeardown("audio backend", closeBackend)
		p.serveMetrics()

		return src.StartCapture(cfg.Audio.InputDevice, cfg.Audio.SampleRate, cfg.Audio.Channels)
	})
}

// runLivestream is the livestream consumer: pipe → encode & broadcast plus
// spectrogram, served over websockets.
func runLivestream(cfg *config.Config) error {
	return runProcess(cfg, "livestream", func(p *process) error {
		_, liveCh, err := newChannels(cfg.FIFO)
		if err != nil {
			return err
		}
		m := observe.DefaultMetrics()

		analyzer, err := spectrogram.NewAnalyzer(cfg.Spectrogram, cfg.Audio.SampleRate, cfg.Audio.Channels)
		if err != nil {
			return err
		}
		spec, err := spectrogram.NewService(analyzer, cfg.Spectrogram.UpdateInterval, cfg.Spectrogram.MaxColumns, m)
		if err != nil {
			return err
		}
		enc, err := livestream.NewEncoder(cfg.Livestream, cfg.Audio.SampleRate, cfg.Audio.Channels)
		if err != nil {
			return err
		}
		pool := workpool.New("encode", cfg.Livestream.EncodeWorkers)
		live := livestream.NewService(enc, pool, m)
		if addr := cfg.Spectrogram.UDPTargetAddress; addr != "" {
			sub, err := broadcast.NewUDPSubscriber(addr)
			if err != nil {
				pool.Close()
				return err
			}
			_ = spec.Connect(sub)
		}

		mux := http.NewServeMux()
		mux.Handle("/ws/audio", broadcast.NewHandler(live, cfg.Livestream.WriteTimeout))
		mux.Handle("/ws/spectrogram", broadcast.NewHandler(spec, cfg.Livestream.WriteTimeout))
		if cfg.Metrics.Enabled {
			mux.Handle("/metrics", observe.Handler())
		}
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":                  "ok",
				"content_type":            live.ContentType(),
				"livestream_subscribers":  live.Subscribers(),
				"spectrogram_subscribers": spec.Subscribers(),
			})
		})

		spec.Start()
		p.serve(&http.Server{Addr: cfg.Livestream.ListenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
		p.runReader(liveCh.NewReader(cfg.FIFO.ReadBackoff, live, spec))
		p.lc.OnTeardown("spectrogram", spec.Close)
		p.lc.OnTeardown("livestream subscribers", live.Close)
		p.lc.OnTeardown("encode pool", func() error { pool.Close(); return nil })
		return nil
	})
}

// runAnalysis is the analysis consumer: pipe → out, one fixed-size chunk at
// a time, for an inference process reading our stdout.
func runAnalysis(cfg *config.Config, out io.Writer) error {
	return runProcess(cfg, "analysis", func(p *process) error {
		analysisCh, _, err := newChannels(cfg.FIFO)
		if err != nil {
			return err
		}
		p.serveMetrics()
		p.runReader(analysisCh.NewReader(cfg.FIFO.ReadBackoff, fifo.NewWriterSink(out)))
		return nil
	})
}
