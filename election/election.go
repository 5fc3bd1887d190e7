// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package election maps rounds to anchor (candidate leader) authors. All
// honest validators must compute the same anchor for the same round, so
// every scheme here is a deterministic function of round number and the
// ordered commit history it has been fed.
package election

import (
	"github.com/luxfi/ids"

	"github.com/luxfi/dagbft/types"
)

// AnchorElection names the anchor of each round and absorbs commit history
// to adjust future elections.
type AnchorElection interface {
	// AnchorAt returns the anchor author of [round]. It is a pure function
	// of the election's current state.
	AnchorAt(round types.Round) ids.NodeID

	// UpdateReputation folds one commit event into the election state.
	// Events must be fed in commit order.
	UpdateReputation(event *types.CommitEvent)
}

// Replay folds a persisted commit-event log into [e]. Feeding the same
// ordered log into a fresh election reproduces the original's AnchorAt
// results round for round.
func Replay(e AnchorElection, events []*types.CommitEvent) {
	for _, event := range events {
		e.UpdateReputation(event)
	}
}
