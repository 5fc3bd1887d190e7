// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/utils"

	"github.com/luxfi/dagbft/types"
)

var _ AnchorElection = (*RoundRobin)(nil)

// RoundRobin rotates anchors through the canonical validator order, one
// step per anchor round. It ignores commit history.
type RoundRobin struct {
	authors []ids.NodeID
}

// NewRoundRobin creates a round-robin election over [authors]. The slice is
// copied and sorted so every validator derives the same rotation.
func NewRoundRobin(authors []ids.NodeID) *RoundRobin {
	sorted := make([]ids.NodeID, len(authors))
	copy(sorted, authors)
	utils.Sort(sorted)
	return &RoundRobin{authors: sorted}
}

func (rr *RoundRobin) AnchorAt(round types.Round) ids.NodeID {
	return rr.authors[round.AnchorOrdinal()%uint64(len(rr.authors))]
}

func (*RoundRobin) UpdateReputation(*types.CommitEvent) {}
