// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package order decides when and in what order DAG nodes become final. The
// rule scans anchor rounds for quorum-voted anchors, walks their causal
// past for earlier uncommitted anchors, and emits gap-free, causally
// consistent slices of the DAG to a notifier.
package order

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/dagbft/dag"
	"github.com/luxfi/dagbft/election"
	"github.com/luxfi/dagbft/types"
)

// Rule is the order-rule state machine. Its only persistent state is the
// lowest unordered anchor round, which never decreases; the graph state
// lives in the DAG store.
//
// Rule is not re-entrant: it performs multi-step reads and writes against
// the store across one invocation, so callers must serialize
// ProcessNewNode and ProcessAll against the same instance.
type Rule struct {
	log      log.Logger
	metrics  *ruleMetrics
	epoch    uint64
	window   types.Round
	store    *dag.Store
	election election.AnchorElection
	verifier types.Verifier
	notifier Notifier
	listener CommitListener

	lowestUnordered types.Round
}

// NewRule creates an order rule resuming at [lowestUnordered] (0 at
// genesis, recovered from persisted commit history otherwise). [window] is
// the causal-history window in rounds; [listener] may be nil.
func NewRule(
	logger log.Logger,
	registerer metric.Registerer,
	epoch uint64,
	window types.Round,
	store *dag.Store,
	anchorElection election.AnchorElection,
	verifier types.Verifier,
	notifier Notifier,
	listener CommitListener,
	lowestUnordered types.Round,
) (*Rule, error) {
	metrics, err := newRuleMetrics(registerer)
	if err != nil {
		return nil, err
	}
	metrics.lowestUnordered.Set(float64(lowestUnordered))
	return &Rule{
		log:             logger,
		metrics:         metrics,
		epoch:           epoch,
		window:          window,
		store:           store,
		election:        anchorElection,
		verifier:        verifier,
		notifier:        notifier,
		listener:        listener,
		lowestUnordered: lowestUnordered,
	}, nil
}

// LowestUnorderedAnchorRound returns the rule's cursor. It is
// non-decreasing across the life of the rule.
func (r *Rule) LowestUnorderedAnchorRound() types.Round {
	return r.lowestUnordered
}

// ProcessNewNode is the fast path invoked after every DAG insertion. A node
// at an anchor-parity round carries no votes (its parents sit at a
// non-anchor round), and a node at or below the cursor cannot enable
// anything new, so both are skipped; this is an optimization, not a
// correctness requirement.
func (r *Rule) ProcessNewNode(meta types.NodeMetadata) {
	round := meta.Round
	if round <= r.lowestUnordered || round.IsAnchorRound() {
		return
	}
	start := round - 1
	if r.lowestUnordered > start {
		start = r.lowestUnordered
	}
	r.checkOrderingBetween(start, round)
}

// ProcessAll rescans every anchor round between the cursor and the highest
// round in the store. Used at startup and epoch recovery to catch up on
// anchors that became orderable while the engine was offline. Idempotent:
// a rescan over already-ordered state is a no-op.
func (r *Rule) ProcessAll() {
	r.checkOrderingBetween(r.lowestUnordered, r.store.HighestRound())
}

func (r *Rule) checkOrderingBetween(start, end types.Round) {
	// A single trigger can cascade into multiple commits: each commit
	// moves the cursor, then the remaining range is scanned again.
	for {
		anchor := r.findFirstAnchorWithEnoughVotes(start, end)
		if anchor == nil {
			return
		}
		earliest := r.findFirstAnchorToOrder(anchor)
		r.finalizeOrder(earliest)
		start = r.lowestUnordered
		if start > end {
			return
		}
	}
}

// findFirstAnchorWithEnoughVotes scans candidate anchor rounds from [start]
// to [end], lowest first, and returns the first anchor whose certifying
// votes reach quorum. Absence of quorum is not an error, merely "not yet".
func (r *Rule) findFirstAnchorWithEnoughVotes(start, end types.Round) *types.CertifiedNode {
	for round := start.NextAnchorRound(); round <= end; round += 2 {
		author := r.election.AnchorAt(round)
		node, ok := r.store.GetNode(round, author)
		if !ok {
			continue
		}
		if r.store.CheckVotes(round, author, r.verifier) {
			return node
		}
	}
	return nil
}

// findFirstAnchorToOrder walks backward from a directly voted anchor to the
// earliest orderable anchor in its causal past: as long as an earlier
// uncommitted anchor is reachable over unordered nodes, that one must
// commit first to preserve total order (the indirect-commit rule).
func (r *Rule) findFirstAnchorToOrder(anchor *types.CertifiedNode) *types.CertifiedNode {
	current := anchor
	for {
		earlier := r.nearestAncestorAnchor(current)
		if earlier == nil {
			return current
		}
		r.log.Debug("indirect commit",
			log.Uint64("anchorRound", uint64(current.Round())),
			log.Uint64("ancestorRound", uint64(earlier.Round())),
		)
		current = earlier
	}
}

// nearestAncestorAnchor returns the highest-round anchor below [anchor]
// reachable from it over unordered nodes within the unordered window, or
// nil.
func (r *Rule) nearestAncestorAnchor(anchor *types.CertifiedNode) *types.CertifiedNode {
	reachable := r.store.Reachable(
		[]types.NodeMetadata{anchor.Metadata()},
		r.lowestUnordered,
		dag.IsUnordered,
	)
	// Reachable yields descending rounds, so the first hit is the nearest.
	for _, node := range reachable {
		if node.Round() >= anchor.Round() {
			continue
		}
		if node.Round().IsAnchorRound() && r.election.AnchorAt(node.Round()) == node.Author() {
			return node
		}
	}
	return nil
}

// finalizeOrder commits [anchor]: it marks the anchor's not-yet-ordered
// causal history within the window as ordered, records the anchor slots
// that stayed empty, feeds reputation, advances the cursor, and hands the
// result to the notifier.
func (r *Rule) finalizeOrder(anchor *types.CertifiedNode) {
	anchorRound := anchor.Round()

	// Bound how far back this commit reaches. The traversal additionally
	// stops at the ordered frontier, so everything below the cursor that a
	// previous commit already swept stays untouched.
	var lowestRoundToReach types.Round
	if anchorRound > r.window {
		lowestRoundToReach = anchorRound - r.window
	}
	lowestRoundToReach = lowestRoundToReach.NextAnchorRound()

	// Anchor slots since the last commit that never produced a node,
	// clamped to the same window.
	failedFrom := r.lowestUnordered.NextAnchorRound()
	if failedFrom < lowestRoundToReach {
		failedFrom = lowestRoundToReach
	}
	var failed []types.AuthorRound
	for round := failedFrom; round < anchorRound; round += 2 {
		author := r.election.AnchorAt(round)
		if _, ok := r.store.GetNode(round, author); !ok {
			failed = append(failed, types.AuthorRound{Round: round, Author: author})
		}
	}

	ordered := r.store.CollectAndMarkOrdered(
		[]types.NodeMetadata{anchor.Metadata()},
		lowestRoundToReach,
	)
	// Traversal order is newest first; committed order is causal.
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	digests := make([]ids.ID, len(ordered))
	for i, node := range ordered {
		digests[i] = node.Digest()
	}
	event := &types.CommitEvent{
		Epoch:          r.epoch,
		AnchorRound:    anchorRound,
		AnchorAuthor:   anchor.Author(),
		AnchorDigest:   anchor.Digest(),
		ParentAuthors:  anchor.Node.ParentAuthors(),
		FailedAnchors:  failed,
		OrderedDigests: digests,
	}

	// Reputation first so the next election already reflects this commit,
	// then persistence, then the notifier.
	r.election.UpdateReputation(event)
	if r.listener != nil {
		r.listener.OnCommit(event)
	}

	r.lowestUnordered = anchorRound + 1

	r.metrics.committedAnchors.Inc()
	r.metrics.committedNodes.Add(float64(len(ordered)))
	r.metrics.failedAnchors.Add(float64(len(failed)))
	r.metrics.lowestUnordered.Set(float64(r.lowestUnordered))
	r.log.Info("committed anchor",
		log.Uint64("round", uint64(anchorRound)),
		log.Stringer("author", anchor.Author()),
		log.Int("ordered", len(ordered)),
		log.Int("failed", len(failed)),
	)

	r.notifier.SendOrderedNodes(ordered, failed)
}
