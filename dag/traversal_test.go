// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/dagbft/types"
)

func TestReachableOrderIsDeterministic(t *testing.T) {
	require := require.New(t)

	authors, _ := newTestAuthors(t, 4)
	store := newTestStore(t)

	round1 := fillRound(t, store, 1, authors, nil)
	round2 := fillRound(t, store, 2, authors, round1)
	round3 := fillRound(t, store, 3, authors, round2)

	first := store.Reachable(round3[:1], 1, IsUnordered)
	// All of rounds 1-2 plus the single round-3 start node.
	require.Len(first, 2*len(authors)+1)

	// Descending round, ascending author within a round.
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		require.True(
			prev.Round() > cur.Round() ||
				(prev.Round() == cur.Round() && prev.Author().Compare(cur.Author()) < 0),
		)
	}

	// Identical query, identical answer.
	second := store.Reachable(round3[:1], 1, IsUnordered)
	require.Equal(first, second)
}

func TestReachableRespectsLowerBound(t *testing.T) {
	require := require.New(t)

	authors, _ := newTestAuthors(t, 4)
	store := newTestStore(t)

	round1 := fillRound(t, store, 1, authors, nil)
	round2 := fillRound(t, store, 2, authors, round1)
	round3 := fillRound(t, store, 3, authors, round2)

	got := store.Reachable(round3[:1], 2, IsUnordered)
	require.Len(got, len(authors)+1)
	for _, cn := range got {
		require.GreaterOrEqual(cn.Round(), types.Round(2))
	}
}

func TestReachableStopsAtOrderedFrontier(t *testing.T) {
	require := require.New(t)

	authors, _ := newTestAuthors(t, 4)
	store := newTestStore(t)

	round1 := fillRound(t, store, 1, authors, nil)
	round2 := fillRound(t, store, 2, authors, round1)
	round3 := fillRound(t, store, 3, authors, round2)

	// Order everything up to round 2; round-2 nodes become the frontier and
	// are neither yielded nor expanded.
	ordered := store.CollectAndMarkOrdered(round2, 1)
	require.Len(ordered, 2*len(authors))

	got := store.Reachable(round3[:1], 1, IsUnordered)
	require.Len(got, 1)
	require.Equal(round3[0].Digest, got[0].Digest())
}

func TestCollectAndMarkOrdered(t *testing.T) {
	require := require.New(t)

	authors, _ := newTestAuthors(t, 4)
	store := newTestStore(t)

	round1 := fillRound(t, store, 1, authors, nil)
	round2 := fillRound(t, store, 2, authors, round1)

	ordered := store.CollectAndMarkOrdered(round2[:1], 1)
	require.Len(ordered, len(authors)+1)
	for _, cn := range ordered {
		require.True(store.IsOrdered(cn.Digest()))
	}

	// A second pass over the same slice finds nothing unordered.
	require.Empty(store.CollectAndMarkOrdered(round2[:1], 1))

	// The untouched round-2 nodes are still unordered.
	for _, meta := range round2[1:] {
		require.False(store.IsOrdered(meta.Digest))
	}
}

func TestTraversalPanicsOnCorruptGraph(t *testing.T) {
	require := require.New(t)

	store := newTestStore(t)

	ghost, err := types.NewNode(testEpoch, 1, ids.GenerateTestNodeID(), 1, nil)
	require.NoError(err)

	require.Panics(func() {
		store.Reachable([]types.NodeMetadata{ghost.Metadata}, 1, IsUnordered)
	})
}
