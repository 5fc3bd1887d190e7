// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"

	"github.com/luxfi/dagbft/broadcast"
	"github.com/luxfi/dagbft/types"
)

// Configuration errors
var (
	ErrInvalidWindow     = errors.New("ordering window must be positive")
	ErrInvalidDelay      = errors.New("broadcast delays must be positive")
	ErrInvalidMultiplier = errors.New("backoff multiplier must be > 1")
)

// Config holds the parameters of one ordering epoch. Protocol-critical
// fields (Epoch, Window) must match across all validators.
type Config struct {
	// Epoch identifies the validator-set era this engine orders for.
	Epoch uint64

	// Window is the causal-history window in rounds: a commit never orders
	// nodes more than Window rounds below its anchor. Must match across
	// validators or they diverge on indirect commits.
	Window types.Round

	// Backoff paces per-peer broadcast retries. Local tuning only.
	Backoff broadcast.BackoffParams
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	if c.Window == 0 {
		return ErrInvalidWindow
	}
	switch {
	case c.Backoff.InitialDelay <= 0,
		c.Backoff.MaxDelay < c.Backoff.InitialDelay,
		c.Backoff.RequestTimeout <= 0:
		return ErrInvalidDelay
	case c.Backoff.Multiplier <= 1:
		return ErrInvalidMultiplier
	}
	return nil
}

// DefaultConfig returns production-ready parameters for epoch 0.
func DefaultConfig() Config {
	return Config{
		Epoch:   0,
		Window:  50,
		Backoff: broadcast.DefaultBackoffParams(),
	}
}
