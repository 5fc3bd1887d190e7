// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package order

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/dagbft/dag"
	"github.com/luxfi/dagbft/election"
	"github.com/luxfi/dagbft/types"
)

const (
	testEpoch  = 1
	testWindow = types.Round(10)
)

type recordingNotifier struct {
	batches [][]*types.CertifiedNode
	failed  [][]types.AuthorRound
}

func (n *recordingNotifier) SendOrderedNodes(ordered []*types.CertifiedNode, failed []types.AuthorRound) {
	n.batches = append(n.batches, ordered)
	n.failed = append(n.failed, failed)
}

type harness struct {
	authors  []ids.NodeID
	verifier types.Verifier
	store    *dag.Store
	rule     *Rule
	notifier *recordingNotifier
	events   []*types.CommitEvent
}

func newHarness(t *testing.T, n int, window types.Round) *harness {
	t.Helper()

	weights := make(map[ids.NodeID]uint64, n)
	for i := 0; i < n; i++ {
		weights[ids.GenerateTestNodeID()] = 1
	}
	verifier, err := types.NewVerifier(weights)
	require.NoError(t, err)

	store, err := dag.NewStore(testEpoch, log.NoLog{}, prometheus.NewRegistry())
	require.NoError(t, err)

	h := &harness{
		authors:  verifier.Authors(),
		verifier: verifier,
		store:    store,
		notifier: &recordingNotifier{},
	}
	rule, err := NewRule(
		log.NoLog{},
		prometheus.NewRegistry(),
		testEpoch,
		window,
		store,
		election.NewRoundRobin(h.authors),
		verifier,
		h.notifier,
		CommitListenerFunc(func(event *types.CommitEvent) {
			h.events = append(h.events, event)
		}),
		0,
	)
	require.NoError(t, err)
	h.rule = rule
	return h
}

// insert adds one node per author in [authors] at [round], each referencing
// all of [parents], and returns the inserted metadata.
func (h *harness) insert(
	t *testing.T,
	round types.Round,
	authors []ids.NodeID,
	parents []types.NodeMetadata,
) []types.NodeMetadata {
	t.Helper()

	metas := make([]types.NodeMetadata, 0, len(authors))
	for _, author := range authors {
		node, err := types.NewNode(testEpoch, round, author, uint64(round)*1000, parents)
		require.NoError(t, err)
		cn := &types.CertifiedNode{
			Node: *node,
			Certificate: types.NodeCertificate{
				Digest:  node.Metadata.Digest,
				Signers: h.authors,
			},
		}
		require.NoError(t, h.store.Insert(cn))
		metas = append(metas, cn.Metadata())
	}
	return metas
}

func (h *harness) anchorAuthor(round types.Round) ids.NodeID {
	return election.NewRoundRobin(h.authors).AnchorAt(round)
}

// without returns authors excluding [exclude].
func (h *harness) without(exclude ids.NodeID) []ids.NodeID {
	var out []ids.NodeID
	for _, author := range h.authors {
		if author != exclude {
			out = append(out, author)
		}
	}
	return out
}

func TestDirectCommitOfFirstAnchor(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, 4, testWindow)

	round1 := h.insert(t, 1, h.authors, nil)
	round2 := h.insert(t, 2, h.authors, round1)
	for _, meta := range round2 {
		h.rule.ProcessNewNode(meta)
	}

	// anchor(1) has a quorum of referencing votes and no earlier anchor
	// exists, so it commits immediately.
	require.Len(h.notifier.batches, 1)
	require.Empty(h.notifier.failed[0])
	require.Equal(types.Round(2), h.rule.LowestUnorderedAnchorRound())

	batch := h.notifier.batches[0]
	anchor := batch[len(batch)-1]
	require.Equal(types.Round(1), anchor.Round())
	require.Equal(h.anchorAuthor(1), anchor.Author())
}

func TestFailedAnchorIsRecorded(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, 4, testWindow)
	anchor1 := h.anchorAuthor(1)
	anchor3 := h.anchorAuthor(3)

	// anchor(1)'s author never broadcasts.
	round1 := h.insert(t, 1, h.without(anchor1), nil)
	round2 := h.insert(t, 2, h.authors, round1)
	round3 := h.insert(t, 3, []ids.NodeID{anchor3}, round2)
	h.insert(t, 4, h.without(anchor1), round3)

	h.rule.ProcessAll()

	require.Len(h.notifier.batches, 1)
	require.Equal(
		[]types.AuthorRound{{Round: 1, Author: anchor1}},
		h.notifier.failed[0],
	)
	// Everything reachable from anchor(3) committed despite the hole.
	require.Len(h.notifier.batches[0], 1+len(h.authors)+3)
	require.Equal(types.Round(4), h.rule.LowestUnorderedAnchorRound())
}

func TestIndirectCommitOrdersAncestorAnchorFirst(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, 4, testWindow)
	anchor1 := h.anchorAuthor(1)
	anchor3 := h.anchorAuthor(3)

	// anchor(1) exists but only one round-2 node references it: one vote,
	// no direct quorum.
	round1 := h.insert(t, 1, h.authors, nil)
	var anchor1Meta types.NodeMetadata
	var rest []types.NodeMetadata
	for _, meta := range round1 {
		if meta.Author == anchor1 {
			anchor1Meta = meta
		} else {
			rest = append(rest, meta)
		}
	}

	voters := h.without(anchor1)
	round2 := h.insert(t, 2, voters[:1], append([]types.NodeMetadata{anchor1Meta}, rest...))
	round2 = append(round2, h.insert(t, 2, voters[1:], rest)...)

	round3 := h.insert(t, 3, []ids.NodeID{anchor3}, round2)
	h.insert(t, 4, voters, round3)

	h.rule.ProcessAll()

	// Two commits: the uncommitted ancestor anchor(1) first, then
	// anchor(3), in strictly increasing round order.
	require.Len(h.notifier.batches, 2)

	first := h.notifier.batches[0]
	require.Equal(types.Round(1), first[len(first)-1].Round())
	require.Equal(anchor1, first[len(first)-1].Author())

	second := h.notifier.batches[1]
	require.Equal(types.Round(3), second[len(second)-1].Round())
	require.Equal(anchor3, second[len(second)-1].Author())

	// No node is emitted twice across batches.
	seen := set.NewSet[ids.ID](0)
	for _, batch := range h.notifier.batches {
		for _, node := range batch {
			require.False(seen.Contains(node.Digest()))
			seen.Add(node.Digest())
		}
	}
}

func TestCascadingCommitsFromSingleTrigger(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, 4, testWindow)

	round1 := h.insert(t, 1, h.authors, nil)
	round2 := h.insert(t, 2, h.authors, round1)
	round3 := h.insert(t, 3, h.authors, round2)
	round4 := h.insert(t, 4, h.authors, round3)

	h.rule.ProcessAll()

	// Both anchor(1) and anchor(3) had quorum votes; one rescan commits
	// both, in increasing round order.
	require.Len(h.notifier.batches, 2)
	require.Equal(types.Round(4), h.rule.LowestUnorderedAnchorRound())

	// Causal consistency: every parent of an emitted node was emitted in
	// the same batch or an earlier one, or predates the retained graph.
	emitted := set.NewSet[ids.ID](0)
	for _, batch := range h.notifier.batches {
		for _, node := range batch {
			for _, parent := range node.Node.Parents {
				if h.store.Contains(parent.Digest) {
					require.True(emitted.Contains(parent.Digest) || inBatch(batch, parent.Digest))
				}
			}
		}
		for _, node := range batch {
			emitted.Add(node.Digest())
		}
	}

	// Within a batch, parents precede children.
	for _, batch := range h.notifier.batches {
		pos := make(map[ids.ID]int, len(batch))
		for i, node := range batch {
			pos[node.Digest()] = i
		}
		for i, node := range batch {
			for _, parent := range node.Node.Parents {
				if j, ok := pos[parent.Digest]; ok {
					require.Less(j, i)
				}
			}
		}
	}

	// Idempotence: nothing new to order on a second rescan.
	_ = round4
	h.rule.ProcessAll()
	require.Len(h.notifier.batches, 2)
}

func inBatch(batch []*types.CertifiedNode, digest ids.ID) bool {
	for _, node := range batch {
		if node.Digest() == digest {
			return true
		}
	}
	return false
}

func TestProcessNewNodeFastPath(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, 4, testWindow)

	round1 := h.insert(t, 1, h.authors, nil)
	round2 := h.insert(t, 2, h.authors, round1)
	round3 := h.insert(t, 3, h.authors, round2)

	// Anchor-parity rounds carry no votes: no commit may trigger.
	for _, meta := range round3 {
		h.rule.ProcessNewNode(meta)
	}
	require.Empty(h.notifier.batches)

	// A voting-round node triggers the scan.
	h.rule.ProcessNewNode(round2[0])
	require.Len(h.notifier.batches, 1)

	// Rounds at or below the cursor are ignored.
	cursor := h.rule.LowestUnorderedAnchorRound()
	h.rule.ProcessNewNode(round2[1])
	require.Equal(cursor, h.rule.LowestUnorderedAnchorRound())
	require.Len(h.notifier.batches, 1)
}

func TestCausalHistoryWindowBoundsCommit(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, 4, 2)
	anchor1 := h.anchorAuthor(1)
	anchor3 := h.anchorAuthor(3)
	anchor5 := h.anchorAuthor(5)

	// Anchors 1 and 3 never appear; anchor 5 eventually commits with a
	// window of 2 rounds.
	round1 := h.insert(t, 1, h.without(anchor1), nil)
	round2 := h.insert(t, 2, h.authors, round1)
	round3 := h.insert(t, 3, h.without(anchor3), round2)
	round4 := h.insert(t, 4, h.authors, round3)
	round5 := h.insert(t, 5, []ids.NodeID{anchor5}, round4)
	h.insert(t, 6, h.without(anchor5), round5)

	h.rule.ProcessAll()

	require.Len(h.notifier.batches, 1)

	// Only the failed anchor inside the window is reported.
	require.Equal(
		[]types.AuthorRound{{Round: 3, Author: anchor3}},
		h.notifier.failed[0],
	)

	// Nothing below round 3 (= 5 - window) is ordered.
	for _, node := range h.notifier.batches[0] {
		require.GreaterOrEqual(node.Round(), types.Round(3))
	}
	for _, meta := range append(round1, round2...) {
		require.False(h.store.IsOrdered(meta.Digest))
	}
	require.Equal(types.Round(6), h.rule.LowestUnorderedAnchorRound())
}

func TestCommitEventsMatchNotifierOutput(t *testing.T) {
	require := require.New(t)

	h := newHarness(t, 4, testWindow)

	round1 := h.insert(t, 1, h.authors, nil)
	round2 := h.insert(t, 2, h.authors, round1)
	h.insert(t, 3, h.authors, round2)
	h.rule.ProcessAll()

	require.Len(h.events, 1)
	require.Len(h.notifier.batches, 1)

	event := h.events[0]
	batch := h.notifier.batches[0]
	require.Equal(uint64(testEpoch), event.Epoch)
	require.Equal(types.Round(1), event.AnchorRound)
	require.Equal(h.anchorAuthor(1), event.AnchorAuthor)
	require.Len(event.OrderedDigests, len(batch))
	for i, node := range batch {
		require.Equal(node.Digest(), event.OrderedDigests[i])
	}
}

func TestDeterministicAcrossInstances(t *testing.T) {
	require := require.New(t)

	a := newHarness(t, 4, testWindow)

	// A second, independent rule instance over the same validator set and
	// the same inserted node set.
	store, err := dag.NewStore(testEpoch, log.NoLog{}, prometheus.NewRegistry())
	require.NoError(err)
	b := &harness{
		authors:  a.authors,
		verifier: a.verifier,
		store:    store,
		notifier: &recordingNotifier{},
	}
	rule, err := NewRule(
		log.NoLog{},
		prometheus.NewRegistry(),
		testEpoch,
		testWindow,
		store,
		election.NewRoundRobin(b.authors),
		b.verifier,
		b.notifier,
		nil,
		0,
	)
	require.NoError(err)
	b.rule = rule

	for _, h := range []*harness{a, b} {
		round1 := h.insert(t, 1, a.authors, nil)
		round2 := h.insert(t, 2, a.authors, round1)
		round3 := h.insert(t, 3, a.authors, round2)
		h.insert(t, 4, a.authors, round3)
		h.rule.ProcessAll()
	}

	require.Equal(len(a.notifier.batches), len(b.notifier.batches))
	for i := range a.notifier.batches {
		require.Equal(a.notifier.failed[i], b.notifier.failed[i])
		require.Equal(len(a.notifier.batches[i]), len(b.notifier.batches[i]))
		for j := range a.notifier.batches[i] {
			require.Equal(
				a.notifier.batches[i][j].Digest(),
				b.notifier.batches[i][j].Digest(),
			)
		}
	}
}
