// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"github.com/luxfi/metric"

	"github.com/luxfi/dagbft/utils/wrappers"
)

type broadcasterMetrics struct {
	requestsSent   metric.Counter
	requestsFailed metric.Counter
	requestRetries metric.Counter
	multicastsDone metric.Counter
}

func newBroadcasterMetrics(registerer metric.Registerer) (*broadcasterMetrics, error) {
	m := &broadcasterMetrics{
		requestsSent: metric.NewCounter(metric.CounterOpts{
			Name: "broadcast_requests_sent",
			Help: "Number of peer requests sent",
		}),
		requestsFailed: metric.NewCounter(metric.CounterOpts{
			Name: "broadcast_requests_failed",
			Help: "Number of peer requests that failed and will be retried",
		}),
		requestRetries: metric.NewCounter(metric.CounterOpts{
			Name: "broadcast_request_retries",
			Help: "Number of peer requests retried after an invalid response",
		}),
		multicastsDone: metric.NewCounter(metric.CounterOpts{
			Name: "broadcast_multicasts_done",
			Help: "Number of multicasts that reached their aggregation threshold",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.requestsSent)),
		registerer.Register(metric.AsCollector(m.requestsFailed)),
		registerer.Register(metric.AsCollector(m.requestRetries)),
		registerer.Register(metric.AsCollector(m.multicastsDone)),
	)
	return m, errs.Err
}
