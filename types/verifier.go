// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math"
	"github.com/luxfi/math/set"
	"github.com/luxfi/utils"
)

var (
	_ Verifier = (*weightedVerifier)(nil)

	ErrEmptyValidatorSet   = errors.New("empty validator set")
	ErrWeightOverflow      = errors.New("total validator weight overflowed")
	ErrUnknownSigner       = errors.New("unknown signer")
	ErrInsufficientQuorum  = errors.New("insufficient signer weight for quorum")
	ErrZeroValidatorWeight = errors.New("validator weight must be positive")
)

// Verifier answers quorum-voting-power questions for the epoch's validator
// set. Signature checking itself lives in the crypto layer; this core only
// does weight arithmetic.
type Verifier interface {
	// Contains reports whether [author] is in the validator set.
	Contains(author ids.NodeID) bool

	// Weight returns the voting power of [author], 0 if unknown.
	Weight(author ids.NodeID) uint64

	// TotalWeight returns the summed voting power of the validator set.
	TotalWeight() uint64

	// QuorumWeight returns the minimum voting power constituting a quorum
	// (strictly more than 2/3 of the total).
	QuorumWeight() uint64

	// Authors returns the validator set in canonical (sorted) order.
	Authors() []ids.NodeID

	// VerifyQuorum errors unless the summed weight of [signers] reaches
	// QuorumWeight. Signers outside the validator set are rejected.
	VerifyQuorum(signers set.Set[ids.NodeID]) error
}

type weightedVerifier struct {
	weights     map[ids.NodeID]uint64
	authors     []ids.NodeID
	totalWeight uint64
}

// NewVerifier builds a Verifier over the given validator weights.
func NewVerifier(weights map[ids.NodeID]uint64) (Verifier, error) {
	if len(weights) == 0 {
		return nil, ErrEmptyValidatorSet
	}

	v := &weightedVerifier{
		weights: make(map[ids.NodeID]uint64, len(weights)),
		authors: make([]ids.NodeID, 0, len(weights)),
	}
	for author, weight := range weights {
		if weight == 0 {
			return nil, fmt.Errorf("%w: %s", ErrZeroValidatorWeight, author)
		}
		total, err := math.Add(v.totalWeight, weight)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWeightOverflow, err)
		}
		v.totalWeight = total
		v.weights[author] = weight
		v.authors = append(v.authors, author)
	}
	// QuorumWeight doubles the total, so reserve the headroom up front.
	if _, err := math.Mul(v.totalWeight, uint64(2)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeightOverflow, err)
	}
	utils.Sort(v.authors)
	return v, nil
}

func (v *weightedVerifier) Contains(author ids.NodeID) bool {
	_, ok := v.weights[author]
	return ok
}

func (v *weightedVerifier) Weight(author ids.NodeID) uint64 {
	return v.weights[author]
}

func (v *weightedVerifier) TotalWeight() uint64 {
	return v.totalWeight
}

func (v *weightedVerifier) QuorumWeight() uint64 {
	// Smallest w such that 3w > 2*total. For n = 3f+1 equal-weight
	// validators this is exactly 2f+1.
	return v.totalWeight*2/3 + 1
}

func (v *weightedVerifier) Authors() []ids.NodeID {
	authors := make([]ids.NodeID, len(v.authors))
	copy(authors, v.authors)
	return authors
}

func (v *weightedVerifier) VerifyQuorum(signers set.Set[ids.NodeID]) error {
	var signedWeight uint64
	for signer := range signers {
		weight, ok := v.weights[signer]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSigner, signer)
		}
		// Signers is a set and every weight was overflow-checked during
		// construction, so this sum cannot overflow.
		signedWeight += weight
	}
	if signedWeight < v.QuorumWeight() {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientQuorum, signedWeight, v.QuorumWeight())
	}
	return nil
}
