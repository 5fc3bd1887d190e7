// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/utils"

	"github.com/luxfi/dagbft/types"
)

// Reachable walks parent edges backward from [from] down to [lowestRound]
// (inclusive, clamped to the retained window), yielding nodes whose status
// passes [filter]. Nodes failing the filter are not expanded: with the
// IsUnordered filter the walk stops at the ordered frontier, which bounds
// every traversal by the causal-history window.
//
// The result is deterministic: descending round, ascending author within a
// round. Returned nodes are shared immutable references.
func (s *Store) Reachable(
	from []types.NodeMetadata,
	lowestRound types.Round,
	filter Filter,
) []*types.CertifiedNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.traverse(from, lowestRound, filter, nil)
}

// CollectAndMarkOrdered performs the same walk as Reachable over Unordered
// nodes, marking every yielded node Ordered in the same pass. The mark and
// the collection are atomic with respect to concurrent inserts and reads.
func (s *Store) CollectAndMarkOrdered(
	from []types.NodeMetadata,
	lowestRound types.Round,
) []*types.CertifiedNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.traverse(from, lowestRound, IsUnordered, func(sn *statusNode) {
		sn.status = Ordered
	})
	s.metrics.orderedNodes.Add(float64(len(ordered)))
	return ordered
}

// traverse is the shared worklist implementation. The caller must hold the
// lock (write lock if [visit] mutates status). An explicit per-round worklist
// bounds memory and avoids recursion on adversarially deep graphs.
func (s *Store) traverse(
	from []types.NodeMetadata,
	lowestRound types.Round,
	filter Filter,
	visit func(*statusNode),
) []*types.CertifiedNode {
	if lowestRound < s.lowestRound {
		lowestRound = s.lowestRound
	}

	pending := make(map[types.Round]map[ids.NodeID]*statusNode)
	var highest types.Round
	enqueue := func(meta types.NodeMetadata) {
		sn, ok := s.byDigest[meta.Digest]
		if !ok {
			// Insert guarantees parents are resolvable inside the retained
			// window; a miss here means graph corruption and any order we
			// produced could be wrong.
			panic(fmt.Sprintf("dag: unresolvable node during traversal: %s", meta))
		}
		slots, ok := pending[meta.Round]
		if !ok {
			slots = make(map[ids.NodeID]*statusNode)
			pending[meta.Round] = slots
		}
		slots[meta.Author] = sn
		if meta.Round > highest {
			highest = meta.Round
		}
	}

	for _, meta := range from {
		if meta.Round < lowestRound {
			continue
		}
		enqueue(meta)
	}

	var out []*types.CertifiedNode
	for round := highest; round >= lowestRound; round-- {
		slots, ok := pending[round]
		if !ok {
			if round == 0 {
				break
			}
			continue
		}
		delete(pending, round)

		authors := make([]ids.NodeID, 0, len(slots))
		for author := range slots {
			authors = append(authors, author)
		}
		utils.Sort(authors)

		for _, author := range authors {
			sn := slots[author]
			if !filter(sn.status) {
				continue
			}
			if visit != nil {
				visit(sn)
			}
			out = append(out, sn.node)
			for _, parent := range sn.node.Node.Parents {
				if parent.Round < lowestRound {
					continue
				}
				enqueue(parent)
			}
		}
		if round == 0 {
			break
		}
	}
	return out
}
