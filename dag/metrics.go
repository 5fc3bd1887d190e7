// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"github.com/luxfi/metric"

	"github.com/luxfi/dagbft/utils/wrappers"
)

type storeMetrics struct {
	numNodes      metric.Gauge
	highestRound  metric.Gauge
	orderedNodes  metric.Counter
	equivocations metric.Counter
}

func newStoreMetrics(registerer metric.Registerer) (*storeMetrics, error) {
	m := &storeMetrics{
		numNodes: metric.NewGauge(metric.GaugeOpts{
			Name: "dag_num_nodes",
			Help: "Number of certified nodes currently held by the DAG store",
		}),
		highestRound: metric.NewGauge(metric.GaugeOpts{
			Name: "dag_highest_round",
			Help: "Highest round for which the DAG store holds a node",
		}),
		orderedNodes: metric.NewCounter(metric.CounterOpts{
			Name: "dag_ordered_nodes",
			Help: "Total number of nodes marked ordered",
		}),
		equivocations: metric.NewCounter(metric.CounterOpts{
			Name: "dag_equivocations",
			Help: "Number of equivocating inserts rejected",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.numNodes)),
		registerer.Register(metric.AsCollector(m.highestRound)),
		registerer.Register(metric.AsCollector(m.orderedNodes)),
		registerer.Register(metric.AsCollector(m.equivocations)),
	)
	return m, errs.Err
}
