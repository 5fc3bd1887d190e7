// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import "github.com/luxfi/dagbft/types"

// Status is the ordering state of a node in the store. A node starts
// Unordered and transitions to Ordered exactly once, never back.
type Status uint8

const (
	Unordered Status = iota
	Ordered
)

func (s Status) String() string {
	if s == Ordered {
		return "ordered"
	}
	return "unordered"
}

// statusNode pairs an immutable certified node with its mutable ordering
// flag. The flag is guarded by the store's lock; statusNode pointers never
// leave the store.
type statusNode struct {
	node   *types.CertifiedNode
	status Status
}

// Filter selects nodes during traversal by ordering status.
type Filter func(Status) bool

// IsUnordered reports nodes not yet ordered. It is the filter used by the
// order rule for both discovery and mutation traversals.
func IsUnordered(s Status) bool {
	return s == Unordered
}
