// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broadcast implements reliable best-effort dissemination: a request
// is sent to a set of peers and retried independently per peer with
// exponential backoff until an aggregation threshold is reached or the
// caller gives up.
package broadcast

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
)

var ErrStopped = errors.New("broadcaster stopped")

// Sender delivers a request to a remote validator and returns its response.
// Implementations are provided by the network layer.
type Sender interface {
	SendRequest(ctx context.Context, nodeID ids.NodeID, request []byte) ([]byte, error)
}

// Handler serves requests addressed to the local validator. Self-sends skip
// the network and call the handler directly.
type Handler interface {
	HandleRequest(ctx context.Context, from ids.NodeID, request []byte) ([]byte, error)
}

// Aggregator folds peer responses into an aggregate of type T. Add returns a
// non-nil aggregate once enough responses have been absorbed; an error marks
// the response invalid, in which case the peer is asked again.
//
// Multicast calls Add from a single goroutine, so implementations need no
// internal locking.
type Aggregator[T any] interface {
	Add(peer ids.NodeID, response []byte) (*T, error)
}

// BackoffParams controls per-peer retry pacing.
type BackoffParams struct {
	InitialDelay   time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	RequestTimeout time.Duration
}

// DefaultBackoffParams returns pacing suitable for a LAN-scale validator set.
func DefaultBackoffParams() BackoffParams {
	return BackoffParams{
		InitialDelay:   50 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       5 * time.Second,
		RequestTimeout: 2 * time.Second,
	}
}

// Broadcaster multicasts requests to validator peers. It owns no protocol
// semantics; callers choose the receivers and the aggregation rule.
type Broadcaster struct {
	log     log.Logger
	metrics *broadcasterMetrics
	self    ids.NodeID
	sender  Sender
	local   Handler
	params  BackoffParams
	latency *latencyTracker

	stopCtx context.Context
	stop    context.CancelFunc
}

func New(
	logger log.Logger,
	registerer metric.Registerer,
	self ids.NodeID,
	sender Sender,
	local Handler,
	params BackoffParams,
) (*Broadcaster, error) {
	metrics, err := newBroadcasterMetrics(registerer)
	if err != nil {
		return nil, err
	}
	stopCtx, stop := context.WithCancel(context.Background())
	return &Broadcaster{
		log:     logger,
		metrics: metrics,
		self:    self,
		sender:  sender,
		local:   local,
		params:  params,
		latency: newLatencyTracker(),
		stopCtx: stopCtx,
		stop:    stop,
	}, nil
}

// Stop cancels all in-flight multicasts. It is safe to call more than once.
func (b *Broadcaster) Stop() {
	b.stop()
}

type response struct {
	peer    ids.NodeID
	payload []byte
}

// Multicast sends request to the receivers, fastest known peers first, and
// feeds their responses into agg until it produces an aggregate. Each peer
// is retried independently with exponential backoff on transport errors and
// on invalid responses. Multicast returns when the aggregate is ready, the
// context is canceled, or the broadcaster is stopped.
func Multicast[T any](
	ctx context.Context,
	b *Broadcaster,
	request []byte,
	agg Aggregator[T],
	receivers []ids.NodeID,
) (*T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stopCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	ordered := b.latency.Order(receivers)
	responses := make(chan response, len(ordered))
	retries := make(map[ids.NodeID]chan struct{}, len(ordered))
	var g errgroup.Group
	for _, peer := range ordered {
		retry := make(chan struct{}, 1)
		retries[peer] = retry
		g.Go(func() error {
			b.requestLoop(ctx, peer, request, responses, retry)
			return nil
		})
	}
	// Join the per-peer loops before returning so no request outlives
	// its multicast.
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			if b.stopCtx.Err() != nil {
				return nil, ErrStopped
			}
			return nil, ctx.Err()
		case resp := <-responses:
			aggregate, err := agg.Add(resp.peer, resp.payload)
			if err != nil {
				b.metrics.requestRetries.Inc()
				b.log.Debug("invalid response, retrying peer",
					log.Stringer("peer", resp.peer),
					log.Err(err),
				)
				select {
				case retries[resp.peer] <- struct{}{}:
				default:
				}
				continue
			}
			if aggregate != nil {
				b.metrics.multicastsDone.Inc()
				return aggregate, nil
			}
		}
	}
}

// requestLoop sends the request to one peer, delivering each response on
// responses and waiting on retry before asking again. Transport failures
// back off exponentially.
func (b *Broadcaster) requestLoop(
	ctx context.Context,
	peer ids.NodeID,
	request []byte,
	responses chan<- response,
	retry <-chan struct{},
) {
	delay := b.params.InitialDelay
	attempt := 0
	for {
		start := time.Now()
		payload, err := b.send(ctx, peer, request)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.metrics.requestsFailed.Inc()
			if attempt%10 == 0 {
				b.log.Warn("request to peer failed",
					log.Stringer("peer", peer),
					log.Int("attempt", attempt),
					log.Err(err),
				)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			attempt++
			delay = nextDelay(delay, b.params)
			continue
		}
		b.latency.Observe(peer, time.Since(start))

		select {
		case responses <- response{peer: peer, payload: payload}:
		case <-ctx.Done():
			return
		}

		// Ask again only if the collector rejected the response.
		select {
		case <-retry:
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		attempt++
		delay = nextDelay(delay, b.params)
	}
}

func (b *Broadcaster) send(ctx context.Context, peer ids.NodeID, request []byte) ([]byte, error) {
	sendCtx := ctx
	if b.params.RequestTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, b.params.RequestTimeout)
		defer cancel()
	}

	b.metrics.requestsSent.Inc()
	if peer == b.self {
		return b.local.HandleRequest(sendCtx, b.self, request)
	}
	return b.sender.SendRequest(sendCtx, peer, request)
}

func nextDelay(delay time.Duration, params BackoffParams) time.Duration {
	next := time.Duration(float64(delay) * params.Multiplier)
	if next > params.MaxDelay {
		return params.MaxDelay
	}
	return next
}
