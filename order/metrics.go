// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package order

import (
	"github.com/luxfi/metric"

	"github.com/luxfi/dagbft/utils/wrappers"
)

type ruleMetrics struct {
	committedAnchors metric.Counter
	committedNodes   metric.Counter
	failedAnchors    metric.Counter
	lowestUnordered  metric.Gauge
}

func newRuleMetrics(registerer metric.Registerer) (*ruleMetrics, error) {
	m := &ruleMetrics{
		committedAnchors: metric.NewCounter(metric.CounterOpts{
			Name: "order_committed_anchors",
			Help: "Total number of committed anchors",
		}),
		committedNodes: metric.NewCounter(metric.CounterOpts{
			Name: "order_committed_nodes",
			Help: "Total number of nodes emitted in commit order",
		}),
		failedAnchors: metric.NewCounter(metric.CounterOpts{
			Name: "order_failed_anchors",
			Help: "Total number of anchor slots recorded as failed",
		}),
		lowestUnordered: metric.NewGauge(metric.GaugeOpts{
			Name: "order_lowest_unordered_anchor_round",
			Help: "Lowest anchor round not yet ordered",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.committedAnchors)),
		registerer.Register(metric.AsCollector(m.committedNodes)),
		registerer.Register(metric.AsCollector(m.failedAnchors)),
		registerer.Register(metric.AsCollector(m.lowestUnordered)),
	)
	return m, errs.Err
}
