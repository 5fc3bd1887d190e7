// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// Round is the index of one DAG layer. Rounds are monotonic per epoch and
// alternate between node-proposal rounds and anchor-candidate rounds: an
// anchor occupies every other round, on odd parity.
type Round uint64

// IsAnchorRound returns whether an anchor may occupy [r].
func (r Round) IsAnchorRound() bool {
	return r%2 == 1
}

// NextAnchorRound returns the lowest anchor round >= [r].
func (r Round) NextAnchorRound() Round {
	if r.IsAnchorRound() {
		return r
	}
	return r + 1
}

// AnchorOrdinal returns the position of [r] within the sequence of anchor
// rounds (1, 3, 5, ...). It is only meaningful for anchor rounds.
func (r Round) AnchorOrdinal() uint64 {
	return uint64(r) / 2
}
