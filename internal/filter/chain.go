// SPDX-License-Identifier: MIT
package filter

import (
	"fmt"
	"sync"

	"audiopipe/internal/pcm"
)

// Chain threads a block through an ordered list of filters.
//
// Configure propagates (sampleRate, channels) to every child. A filter that
// implements RateChanger changes the rate seen by the filters after it.
type Chain struct {
	mu         sync.RWMutex
	filters    []Filter
	configured bool
	inputRate  int
	outputRate int
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Append adds filters to the end of the chain. The chain must be configured
// again afterwards.
func (c *Chain) Append(filters ...Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, filters...)
	c.configured = false
}

func (c *Chain) Configure(sampleRate, channels int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := sampleRate
	for i, f := range c.filters {
		if err := f.Configure(rate, channels); err != nil {
			return fmt.Errorf("failed to configure filter %d (%s): %w", i, f.Name(), err)
		}
		if rc, ok := f.(RateChanger); ok {
			rate = rc.OutputRate(rate)
		}
	}
	c.inputRate = sampleRate
	c.outputRate = rate
	c.configured = true
	return nil
}

// Process applies every filter in order. Filters never fail, so the only
// error is calling Process before Configure.
func (c *Chain) Process(block pcm.Block) (pcm.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.configured {
		return block, ErrNotConfigured
	}
	for _, f := range c.filters {
		block = f.Apply(block)
	}
	return block, nil
}

// Filters returns a snapshot of the chain's filters.
func (c *Chain) Filters() []Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Filter, len(c.filters))
	copy(out, c.filters)
	return out
}

// OutputRate is the sample rate of blocks leaving the chain, or 0 before
// Configure.
func (c *Chain) OutputRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.configured {
		return 0
	}
	return c.outputRate
}

// InputRate is the rate the chain was configured with.
func (c *Chain) InputRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inputRate
}
