// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package order

import (
	"github.com/luxfi/log"

	"github.com/luxfi/dagbft/types"
)

var (
	_ Notifier       = NoopNotifier{}
	_ CommitListener = CommitListenerFunc(nil)
)

// Notifier receives each newly finalized slice of the DAG. It is invoked
// exactly once per committed anchor, synchronously, in strictly increasing
// anchor-round order.
type Notifier interface {
	// SendOrderedNodes delivers the committed nodes in causal (oldest
	// first) order, anchor last, together with the anchor slots that
	// failed to produce a node since the previous commit.
	SendOrderedNodes(ordered []*types.CertifiedNode, failed []types.AuthorRound)
}

// NoopNotifier drops ordered output, logging it at debug.
type NoopNotifier struct {
	Log log.Logger
}

func (n NoopNotifier) SendOrderedNodes(ordered []*types.CertifiedNode, failed []types.AuthorRound) {
	n.Log.Debug("dropping ordered nodes",
		log.Int("ordered", len(ordered)),
		log.Int("failed", len(failed)),
	)
}

// CommitListener observes every commit event before the notifier runs,
// typically to persist it for epoch recovery.
type CommitListener interface {
	OnCommit(event *types.CommitEvent)
}

// CommitListenerFunc adapts a function to CommitListener.
type CommitListenerFunc func(event *types.CommitEvent)

func (f CommitListenerFunc) OnCommit(event *types.CommitEvent) {
	if f != nil {
		f(event)
	}
}
