// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/utils"

	"github.com/luxfi/dagbft/types"
)

var _ AnchorElection = (*LeaderReputation)(nil)

const (
	// activeWeight rewards authors that recently committed an anchor or
	// parented one. failedWeight all but excludes authors whose anchor
	// slots recently failed; baseWeight covers authors with no recent
	// history either way.
	activeWeight = 1000
	failedWeight = 1
	baseWeight   = 100

	// defaultWindowSize is the number of recent commit events considered.
	defaultWindowSize = 10
)

// LeaderReputation elects anchors by a weighted draw over the validator
// set, where weights reflect each author's behavior in a sliding window of
// recent commits. State is a pure fold over the ordered commit-event
// sequence, so a fresh instance replayed from the persisted log converges
// to the same elections.
type LeaderReputation struct {
	authors    []ids.NodeID
	windowSize int

	mu     sync.RWMutex
	window []*types.CommitEvent
}

// NewLeaderReputation creates a reputation-weighted election over [authors].
func NewLeaderReputation(authors []ids.NodeID) *LeaderReputation {
	sorted := make([]ids.NodeID, len(authors))
	copy(sorted, authors)
	utils.Sort(sorted)
	return &LeaderReputation{
		authors:    sorted,
		windowSize: defaultWindowSize,
	}
}

func (lr *LeaderReputation) AnchorAt(round types.Round) ids.NodeID {
	lr.mu.RLock()
	defer lr.mu.RUnlock()

	weights := make(map[ids.NodeID]uint64, len(lr.authors))
	for _, author := range lr.authors {
		weights[author] = baseWeight
	}
	// Oldest to newest so the most recent classification wins.
	for _, event := range lr.window {
		weights[event.AnchorAuthor] = activeWeight
		for _, author := range event.ParentAuthors {
			if _, ok := weights[author]; ok {
				weights[author] = activeWeight
			}
		}
		for _, failed := range event.FailedAnchors {
			if _, ok := weights[failed.Author]; ok {
				weights[failed.Author] = failedWeight
			}
		}
	}

	var total uint64
	for _, author := range lr.authors {
		total += weights[author]
	}

	// A deterministic draw seeded by the round number: every validator
	// computes the same winner without shared randomness.
	draw := splitmix64(uint64(round)) % total
	for _, author := range lr.authors {
		w := weights[author]
		if draw < w {
			return author
		}
		draw -= w
	}
	// total is the exact sum of the weights walked above.
	panic("election: weighted draw out of range")
}

func (lr *LeaderReputation) UpdateReputation(event *types.CommitEvent) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	lr.window = append(lr.window, event)
	if len(lr.window) > lr.windowSize {
		lr.window = lr.window[len(lr.window)-lr.windowSize:]
	}
}

// splitmix64 is a fixed-constant bit mixer (Vigna, 2015). It must never
// change: anchor elections on different validators have to agree bit for
// bit.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
