// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math"
	"github.com/luxfi/math/set"
	"github.com/luxfi/utils"

	"github.com/luxfi/dagbft/message"
	"github.com/luxfi/dagbft/types"
)

var (
	_ Aggregator[types.NodeCertificate] = (*CertificateAggregator)(nil)
	_ Aggregator[set.Set[ids.NodeID]]   = (*AckAggregator)(nil)

	ErrUnexpectedResponse = errors.New("unexpected response type")
	ErrWrongDigest        = errors.New("response digest does not match request")
	ErrWrongSigner        = errors.New("response signer does not match peer")
)

// CertificateAggregator collects votes over a node digest and produces a
// certificate once a quorum of voting weight has signed.
type CertificateAggregator struct {
	digest     ids.ID
	verifier   types.Verifier
	signatures map[ids.NodeID][]byte
	weight     uint64
}

func NewCertificateAggregator(digest ids.ID, verifier types.Verifier) *CertificateAggregator {
	return &CertificateAggregator{
		digest:     digest,
		verifier:   verifier,
		signatures: make(map[ids.NodeID][]byte),
	}
}

func (a *CertificateAggregator) Add(peer ids.NodeID, responseBytes []byte) (*types.NodeCertificate, error) {
	msg, err := message.Parse(responseBytes)
	if err != nil {
		return nil, err
	}
	voteMsg, ok := msg.(*message.VoteResponse)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResponse, msg)
	}
	vote := voteMsg.Vote

	if vote.Digest != a.digest {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongDigest, vote.Digest, a.digest)
	}
	if vote.Signer != peer {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongSigner, vote.Signer, peer)
	}
	if !a.verifier.Contains(peer) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSigner, peer)
	}
	if _, ok := a.signatures[peer]; ok {
		// Duplicate vote from a retried request.
		return nil, nil
	}

	a.signatures[peer] = vote.Signature
	weight, err := math.Add(a.weight, a.verifier.Weight(peer))
	if err != nil {
		return nil, err
	}
	a.weight = weight

	if a.weight < a.verifier.QuorumWeight() {
		return nil, nil
	}

	signers := make([]ids.NodeID, 0, len(a.signatures))
	for signer := range a.signatures {
		signers = append(signers, signer)
	}
	utils.Sort(signers)

	var aggregate []byte
	for _, signer := range signers {
		aggregate = append(aggregate, a.signatures[signer]...)
	}
	return &types.NodeCertificate{
		Digest:             a.digest,
		Signers:            signers,
		AggregateSignature: aggregate,
	}, nil
}

// AckAggregator collects storage acknowledgements for a certified node and
// completes once a quorum of weight has acked, guaranteeing the node is
// retrievable from at least one honest validator.
type AckAggregator struct {
	digest   ids.ID
	verifier types.Verifier
	acked    set.Set[ids.NodeID]
	weight   uint64
}

func NewAckAggregator(digest ids.ID, verifier types.Verifier) *AckAggregator {
	return &AckAggregator{
		digest:   digest,
		verifier: verifier,
		acked:    set.NewSet[ids.NodeID](0),
	}
}

func (a *AckAggregator) Add(peer ids.NodeID, responseBytes []byte) (*set.Set[ids.NodeID], error) {
	msg, err := message.Parse(responseBytes)
	if err != nil {
		return nil, err
	}
	ack, ok := msg.(*message.AckResponse)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResponse, msg)
	}

	if ack.Digest != a.digest {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongDigest, ack.Digest, a.digest)
	}
	if ack.Signer != peer {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongSigner, ack.Signer, peer)
	}
	if !a.verifier.Contains(peer) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSigner, peer)
	}
	if a.acked.Contains(peer) {
		return nil, nil
	}

	a.acked.Add(peer)
	weight, err := math.Add(a.weight, a.verifier.Weight(peer))
	if err != nil {
		return nil, err
	}
	a.weight = weight

	if a.weight < a.verifier.QuorumWeight() {
		return nil, nil
	}
	acked := a.acked
	return &acked, nil
}
