// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types defines the data model of the DAG ordering core: nodes,
// certificates, commit events and the validator-weight verifier.
package types

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

var (
	ErrNoParents       = errors.New("node has no parents")
	ErrBadParentRound  = errors.New("parent round must immediately precede node round")
	ErrDuplicateParent = errors.New("duplicate parent author")
	ErrDigestMismatch  = errors.New("node digest does not match content")
)

// NodeMetadata uniquely identifies a DAG node. It is immutable once created
// and serves as the graph vertex key.
type NodeMetadata struct {
	Epoch     uint64     `serialize:"true"`
	Round     Round      `serialize:"true"`
	Author    ids.NodeID `serialize:"true"`
	Timestamp uint64     `serialize:"true"`
	Digest    ids.ID     `serialize:"true"`
}

func (m NodeMetadata) String() string {
	return fmt.Sprintf("node(epoch=%d, round=%d, author=%s, digest=%s)",
		m.Epoch, m.Round, m.Author, m.Digest)
}

// Node is a broadcast DAG vertex: metadata plus references to the nodes of
// the immediately preceding round it causally depends on.
type Node struct {
	Metadata NodeMetadata   `serialize:"true"`
	Parents  []NodeMetadata `serialize:"true"`
}

// NewNode builds a node and computes its content digest. Parents must all
// belong to round-1; round 1 nodes may have no parents.
func NewNode(
	epoch uint64,
	round Round,
	author ids.NodeID,
	timestamp uint64,
	parents []NodeMetadata,
) (*Node, error) {
	n := &Node{
		Metadata: NodeMetadata{
			Epoch:     epoch,
			Round:     round,
			Author:    author,
			Timestamp: timestamp,
		},
		Parents: parents,
	}
	if err := n.verifyStructure(); err != nil {
		return nil, err
	}
	n.Metadata.Digest = n.computeDigest()
	return n, nil
}

// Verify checks structural validity of the node and that the recorded
// digest matches its content.
func (n *Node) Verify() error {
	if err := n.verifyStructure(); err != nil {
		return err
	}
	if n.Metadata.Digest != n.computeDigest() {
		return ErrDigestMismatch
	}
	return nil
}

// verifyStructure enforces the parent-linkage rules: every parent sits in
// the immediately preceding round, parent authors are distinct, and every
// node past round 1 carries at least one parent.
func (n *Node) verifyStructure() error {
	if n.Metadata.Round > 1 && len(n.Parents) == 0 {
		return ErrNoParents
	}
	seen := set.NewSet[ids.NodeID](len(n.Parents))
	for _, parent := range n.Parents {
		if parent.Round+1 != n.Metadata.Round {
			return fmt.Errorf("%w: parent round %d, node round %d",
				ErrBadParentRound, parent.Round, n.Metadata.Round)
		}
		if seen.Contains(parent.Author) {
			return fmt.Errorf("%w: %s", ErrDuplicateParent, parent.Author)
		}
		seen.Add(parent.Author)
	}
	return nil
}

// ParentAuthors returns the authors of all parents, in parent order.
func (n *Node) ParentAuthors() []ids.NodeID {
	authors := make([]ids.NodeID, len(n.Parents))
	for i, parent := range n.Parents {
		authors[i] = parent.Author
	}
	return authors
}

func (n *Node) computeDigest() ids.ID {
	var header [3 * 8]byte
	binary.BigEndian.PutUint64(header[0:], n.Metadata.Epoch)
	binary.BigEndian.PutUint64(header[8:], uint64(n.Metadata.Round))
	binary.BigEndian.PutUint64(header[16:], n.Metadata.Timestamp)

	h := sha256.New()
	h.Write(header[:])
	h.Write(n.Metadata.Author[:])
	var parentRound [8]byte
	for _, parent := range n.Parents {
		binary.BigEndian.PutUint64(parentRound[:], uint64(parent.Round))
		h.Write(parentRound[:])
		h.Write(parent.Author[:])
		h.Write(parent.Digest[:])
	}
	var digest [sha256.Size]byte
	h.Sum(digest[:0])
	return ids.ID(digest)
}

// Vote is a single validator's signature over a node digest.
type Vote struct {
	Digest    ids.ID     `serialize:"true"`
	Signer    ids.NodeID `serialize:"true"`
	Signature []byte     `serialize:"true"`
}

// NodeCertificate proves that a quorum of validators voted for a node.
// Signature verification is performed by the crypto layer before a
// certificate reaches this core; here signers and signatures are opaque
// verified facts.
type NodeCertificate struct {
	Digest             ids.ID       `serialize:"true"`
	Signers            []ids.NodeID `serialize:"true"`
	AggregateSignature []byte       `serialize:"true"`
}

// SignerSet returns the certificate signers as a set.
func (c *NodeCertificate) SignerSet() set.Set[ids.NodeID] {
	signers := set.NewSet[ids.NodeID](len(c.Signers))
	for _, signer := range c.Signers {
		signers.Add(signer)
	}
	return signers
}

// CertifiedNode is a node together with its quorum certificate. It is
// immutable and owned by the DAG store after insertion.
type CertifiedNode struct {
	Node        Node            `serialize:"true"`
	Certificate NodeCertificate `serialize:"true"`
}

// Metadata returns the metadata of the underlying node.
func (cn *CertifiedNode) Metadata() NodeMetadata {
	return cn.Node.Metadata
}

// Round returns the round of the underlying node.
func (cn *CertifiedNode) Round() Round {
	return cn.Node.Metadata.Round
}

// Author returns the author of the underlying node.
func (cn *CertifiedNode) Author() ids.NodeID {
	return cn.Node.Metadata.Author
}

// Digest returns the digest of the underlying node.
func (cn *CertifiedNode) Digest() ids.ID {
	return cn.Node.Metadata.Digest
}

// Verify checks internal consistency of the certified node: content digest,
// certificate digest binding, and quorum weight of the signers.
func (cn *CertifiedNode) Verify(verifier Verifier) error {
	if err := cn.Node.Verify(); err != nil {
		return err
	}
	if cn.Certificate.Digest != cn.Node.Metadata.Digest {
		return fmt.Errorf("%w: certificate digest %s", ErrDigestMismatch, cn.Certificate.Digest)
	}
	return verifier.VerifyQuorum(cn.Certificate.SignerSet())
}
