// SPDX-License-Identifier: MIT

// Package workpool bounds how many CPU-bound jobs run at once.
package workpool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	applog "audiopipe/internal/log"
)

var ErrClosed = errors.New("workpool: closed")

// Pool admits at most n jobs at a time. A submitter waits for a free slot
// rather than queueing unbounded work, and the job runs on the submitter's
// goroutine.
type Pool struct {
	sem     *semaphore.Weighted
	life    context.Context
	stop    context.CancelFunc
	once    sync.Once
	workers int
	log     *applog.Logger
}

// New returns a pool of n slots. n < 1 is treated as 1.
func New(name string, n int) *Pool {
	if n < 1 {
		n = 1
	}
	life, stop := context.WithCancel(context.Background())
	p := &Pool{
		sem:     semaphore.NewWeighted(int64(n)),
		life:    life,
		stop:    stop,
		workers: n,
		log:     applog.New("WorkPool[" + name + "]"),
	}
	p.log.Debugf("%d slots", n)
	return p
}

func (p *Pool) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("recovered from panic in job: %v", r)
			err = errors.New("workpool: job panicked")
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Do waits for a free slot, runs fn and returns its result. Closing the
// pool releases submitters still waiting with ErrClosed.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if p.life.Err() != nil {
		return ErrClosed
	}
	wait, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(p.life, cancel)()

	if err := p.sem.Acquire(wait, 1); err != nil {
		if ctx.Err() == nil && p.life.Err() != nil {
			return ErrClosed
		}
		return err
	}
	defer p.sem.Release(1)
	if p.life.Err() != nil {
		return ErrClosed
	}
	return p.run(ctx, fn)
}

// Close rejects new jobs and waits for in-flight ones. Idempotent.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.stop()
		_ = p.sem.Acquire(context.Background(), int64(p.workers))
		p.sem.Release(int64(p.workers))
		p.log.Debugf("stopped")
	})
}
