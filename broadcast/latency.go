// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"
)

// ewmaAlpha weights the newest observation against the running average.
const ewmaAlpha = 0.2

// latencyTracker keeps an exponentially weighted moving average of the
// round-trip latency observed per peer, used to rank receivers so the
// fastest peers are contacted first.
type latencyTracker struct {
	lock sync.RWMutex
	ewma map[ids.NodeID]float64
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{
		ewma: make(map[ids.NodeID]float64),
	}
}

func (l *latencyTracker) Observe(peer ids.NodeID, latency time.Duration) {
	sample := float64(latency)

	l.lock.Lock()
	defer l.lock.Unlock()

	prev, ok := l.ewma[peer]
	if !ok {
		l.ewma[peer] = sample
		return
	}
	l.ewma[peer] = ewmaAlpha*sample + (1-ewmaAlpha)*prev
}

// Order returns the peers sorted by ascending expected latency. Peers with
// no observations sort last; ties break on node ID so the order is
// deterministic.
func (l *latencyTracker) Order(peers []ids.NodeID) []ids.NodeID {
	l.lock.RLock()
	defer l.lock.RUnlock()

	ordered := make([]ids.NodeID, len(peers))
	copy(ordered, peers)
	sort.SliceStable(ordered, func(i, j int) bool {
		li, iKnown := l.ewma[ordered[i]]
		lj, jKnown := l.ewma[ordered[j]]
		switch {
		case iKnown && !jKnown:
			return true
		case !iKnown && jKnown:
			return false
		case !iKnown && !jKnown:
			return ordered[i].Compare(ordered[j]) < 0
		case li != lj:
			return li < lj
		default:
			return ordered[i].Compare(ordered[j]) < 0
		}
	})
	return ordered
}
