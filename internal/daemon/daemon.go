// SPDX-License-Identifier: MIT

// Package daemon holds the shutdown flag shared by a process's signal
// handler and main loop, and the ordered teardown run on exit.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	applog "audiopipe/internal/log"
)

// State is the process shutdown flag. It is set only by the signal handler
// and polled by the main loop.
type State struct {
	shutdown atomic.Bool
}

func (s *State) RequestShutdown()        { s.shutdown.Store(true) }
func (s *State) ShutdownRequested() bool { return s.shutdown.Load() }
func (s *State) Reset()                  { s.shutdown.Store(false) }

var log = applog.New("Daemon")

// InstallSignalHandler sets state's flag when one of sigs arrives (SIGINT
// and SIGTERM when none are given). The handler does nothing else. The
// returned function uninstalls it.
func InstallSignalHandler(state *State, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)

	go func() {
		for {
			select {
			case sig := <-ch:
				log.Infof("received %s, shutdown requested", sig)
				state.RequestShutdown()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

type step struct {
	name string
	fn   func() error
}

// Lifecycle waits for the shutdown flag and runs registered teardown steps
// exactly once, in registration order.
type Lifecycle struct {
	state *State
	poll  time.Duration

	mu    sync.Mutex
	steps []step
	once  sync.Once
	err   error
}

// NewLifecycle polls state every poll interval (200ms when poll <= 0).
func NewLifecycle(state *State, poll time.Duration) *Lifecycle {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &Lifecycle{state: state, poll: poll}
}

// OnTeardown appends a named step.
func (l *Lifecycle) OnTeardown(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step{name: name, fn: fn})
}

// Wait returns nil once shutdown is requested, or ctx's error if ctx ends
// first.
func (l *Lifecycle) Wait(ctx context.Context) error {
	t := time.NewTicker(l.poll)
	defer t.Stop()
	for !l.state.ShutdownRequested() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Teardown runs every step in order. A failing or panicking step is logged
// and the rest still run. Later calls return the first call's result.
func (l *Lifecycle) Teardown() error {
	l.once.Do(func() {
		l.mu.Lock()
		steps := append([]step(nil), l.steps...)
		l.mu.Unlock()

		var errs []error
		for _, s := range steps {
			if err := runStep(s); err != nil {
				log.Errorf("teardown %s: %v", s.name, err)
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			log.Debugf("teardown %s done", s.name)
		}
		l.err = errors.Join(errs...)
	})
	return l.err
}

func runStep(s step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn()
}

// Guard runs fn and then Teardown. If fn panics, Teardown runs before the
// panic continues.
func (l *Lifecycle) Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic: %v, tearing down", r)
			_ = l.Teardown()
			panic(r)
		}
	}()
	err = fn()
	if terr := l.Teardown(); terr != nil && err == nil {
		err = terr
	}
	return err
}
