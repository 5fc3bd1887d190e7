// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"fmt"

	"github.com/luxfi/ids"
)

// AuthorRound identifies an anchor slot that failed to produce a certified
// node.
type AuthorRound struct {
	Round  Round      `serialize:"true"`
	Author ids.NodeID `serialize:"true"`
}

// CommitEvent is the immutable audit record emitted each time an anchor
// commits. It feeds anchor-election reputation and, replayed from persistent
// storage, reconstructs ordering state after a restart.
type CommitEvent struct {
	Epoch        uint64     `serialize:"true"`
	AnchorRound  Round      `serialize:"true"`
	AnchorAuthor ids.NodeID `serialize:"true"`
	AnchorDigest ids.ID     `serialize:"true"`

	// ParentAuthors are the authors of the committing anchor's parents.
	ParentAuthors []ids.NodeID `serialize:"true"`

	// FailedAnchors are the anchor slots between this commit and the
	// previous one for which no certified node ever appeared.
	FailedAnchors []AuthorRound `serialize:"true"`

	// OrderedDigests are the digests of every node ordered by this commit,
	// in causal (oldest-first) order, anchor last.
	OrderedDigests []ids.ID `serialize:"true"`
}

func (e *CommitEvent) String() string {
	return fmt.Sprintf("commit(epoch=%d, round=%d, anchor=%s, ordered=%d, failed=%d)",
		e.Epoch, e.AnchorRound, e.AnchorAuthor, len(e.OrderedDigests), len(e.FailedAnchors))
}
