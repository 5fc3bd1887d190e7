// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dag implements the concurrent, round-indexed causal graph of
// certified nodes and its reachability queries.
package dag

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"

	"github.com/luxfi/dagbft/types"
)

var (
	ErrWrongEpoch    = errors.New("node belongs to a different epoch")
	ErrEquivocation  = errors.New("equivocation: conflicting node for occupied slot")
	ErrMissingParent = errors.New("parent not present in store")
	ErrStaleRound    = errors.New("node round below garbage-collected window")
)

// Store is the causal graph of one epoch. A single readers-writer lock
// guards the node index; inserts are atomic and traversals never observe a
// partially inserted node.
type Store struct {
	log     log.Logger
	metrics *storeMetrics
	epoch   uint64

	mu sync.RWMutex
	// rounds[r][author] is the unique certified node at slot (r, author).
	rounds   map[types.Round]map[ids.NodeID]*statusNode
	byDigest map[ids.ID]*statusNode
	// lowestRound is the lowest round still retained (1 at epoch start,
	// raised by PruneBelow). highestRound is the highest round for which
	// any node exists.
	lowestRound  types.Round
	highestRound types.Round
}

// NewStore creates an empty store for [epoch].
func NewStore(epoch uint64, logger log.Logger, registerer metric.Registerer) (*Store, error) {
	metrics, err := newStoreMetrics(registerer)
	if err != nil {
		return nil, err
	}
	return &Store{
		log:         logger,
		metrics:     metrics,
		epoch:       epoch,
		rounds:      make(map[types.Round]map[ids.NodeID]*statusNode),
		byDigest:    make(map[ids.ID]*statusNode),
		lowestRound: 1,
	}, nil
}

// Insert adds [node] to the store. Inserting the same node twice is a no-op.
// Inserting a different node into an occupied (round, author) slot fails
// with ErrEquivocation; the slot keeps its first occupant.
func (s *Store) Insert(node *types.CertifiedNode) error {
	meta := node.Metadata()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case meta.Epoch != s.epoch:
		return fmt.Errorf("%w: got %d, want %d", ErrWrongEpoch, meta.Epoch, s.epoch)
	case meta.Round < s.lowestRound:
		return fmt.Errorf("%w: round %d < %d", ErrStaleRound, meta.Round, s.lowestRound)
	}

	if existing, ok := s.byDigest[meta.Digest]; ok && existing.node.Metadata() == meta {
		return nil
	}
	slots, ok := s.rounds[meta.Round]
	if !ok {
		slots = make(map[ids.NodeID]*statusNode)
		s.rounds[meta.Round] = slots
	}
	if occupant, ok := slots[meta.Author]; ok {
		s.metrics.equivocations.Inc()
		s.log.Warn("rejecting equivocating node",
			log.Uint64("round", uint64(meta.Round)),
			log.Stringer("author", meta.Author),
			log.Stringer("existing", occupant.node.Digest()),
			log.Stringer("conflicting", meta.Digest),
		)
		return fmt.Errorf("%w: round %d author %s", ErrEquivocation, meta.Round, meta.Author)
	}

	if meta.Round > 1 && len(node.Node.Parents) == 0 {
		return fmt.Errorf("%w: round %d", types.ErrNoParents, meta.Round)
	}
	parentAuthors := set.NewSet[ids.NodeID](len(node.Node.Parents))
	for _, parent := range node.Node.Parents {
		if parent.Round+1 != meta.Round {
			return fmt.Errorf("%w: parent round %d, node round %d",
				types.ErrBadParentRound, parent.Round, meta.Round)
		}
		if parentAuthors.Contains(parent.Author) {
			return fmt.Errorf("%w: %s", types.ErrDuplicateParent, parent.Author)
		}
		parentAuthors.Add(parent.Author)
	}

	// Round-by-round construction: all declared parents must already be
	// resolvable unless they predate the retained window.
	for _, parent := range node.Node.Parents {
		if parent.Round < s.lowestRound {
			continue
		}
		if _, ok := s.byDigest[parent.Digest]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingParent, parent)
		}
	}

	sn := &statusNode{node: node}
	slots[meta.Author] = sn
	s.byDigest[meta.Digest] = sn
	if meta.Round > s.highestRound {
		s.highestRound = meta.Round
		s.metrics.highestRound.Set(float64(meta.Round))
	}
	s.metrics.numNodes.Set(float64(len(s.byDigest)))
	return nil
}

// GetNode returns the certified node at slot (round, author), if any.
func (s *Store) GetNode(round types.Round, author ids.NodeID) (*types.CertifiedNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn, ok := s.rounds[round][author]
	if !ok {
		return nil, false
	}
	return sn.node, true
}

// GetNodeByDigest returns the certified node with [digest], if any.
func (s *Store) GetNodeByDigest(digest ids.ID) (*types.CertifiedNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn, ok := s.byDigest[digest]
	if !ok {
		return nil, false
	}
	return sn.node, true
}

// Contains reports whether a node with [digest] is in the store.
func (s *Store) Contains(digest ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byDigest[digest]
	return ok
}

// IsOrdered reports whether the node with [digest] has been marked ordered.
func (s *Store) IsOrdered(digest ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn, ok := s.byDigest[digest]
	return ok && sn.status == Ordered
}

// HighestRound returns the highest round for which any node exists.
func (s *Store) HighestRound() types.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.highestRound
}

// LowestRound returns the lowest round still retained by the store.
func (s *Store) LowestRound() types.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lowestRound
}

// CheckVotes reports whether the certificates of round+1 nodes referencing
// slot (round, author) total at least quorum voting power. This is the
// "direct commit" test for anchors.
func (s *Store) CheckVotes(round types.Round, author ids.NodeID, verifier types.Verifier) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.rounds[round][author]
	if !ok {
		return false
	}
	targetDigest := target.node.Digest()

	var votedWeight uint64
	for voter, sn := range s.rounds[round+1] {
		for _, parent := range sn.node.Node.Parents {
			if parent.Digest == targetDigest {
				votedWeight += verifier.Weight(voter)
				break
			}
		}
	}
	return votedWeight >= verifier.QuorumWeight()
}

// MarkOrderedByDigest flips the listed nodes to Ordered without a traversal.
// Used by epoch recovery to fast-forward persisted commit history. Digests
// for nodes no longer (or not yet) in the store are ignored. Returns the
// number of nodes newly marked.
func (s *Store) MarkOrderedByDigest(digests []ids.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, digest := range digests {
		sn, ok := s.byDigest[digest]
		if !ok || sn.status == Ordered {
			continue
		}
		sn.status = Ordered
		marked++
	}
	s.metrics.orderedNodes.Add(float64(marked))
	return marked
}

// PruneBelow garbage-collects every round strictly below [round]. Callers
// prune only rounds outside the causal-history window of any future commit.
func (s *Store) PruneBelow(round types.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round <= s.lowestRound {
		return
	}
	for r := s.lowestRound; r < round; r++ {
		for _, sn := range s.rounds[r] {
			delete(s.byDigest, sn.node.Digest())
		}
		delete(s.rounds, r)
	}
	s.lowestRound = round
	s.metrics.numNodes.Set(float64(len(s.byDigest)))
}
