// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine wires the DAG store, anchor election, order rule, reliable
// broadcast and commit log into a running validator. The driver owns the
// node submission path, the peer-facing request handler, and crash recovery
// from the persisted commit history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"

	"github.com/luxfi/dagbft/broadcast"
	"github.com/luxfi/dagbft/dag"
	"github.com/luxfi/dagbft/election"
	"github.com/luxfi/dagbft/message"
	"github.com/luxfi/dagbft/order"
	"github.com/luxfi/dagbft/storage"
	"github.com/luxfi/dagbft/types"
	"github.com/luxfi/dagbft/utils/timer/mockable"
)

var (
	_ broadcast.Handler = (*Driver)(nil)
	_ message.Handler   = (*Driver)(nil)

	ErrNotRecovered   = errors.New("driver serving before recovery")
	ErrVoteConflict   = errors.New("already voted for a different node in this slot")
	ErrUnexpectedNode = errors.New("node rejected")
)

// Signer produces this validator's signature over a node digest. Key
// management and the signature scheme live outside this package.
type Signer interface {
	Sign(digest ids.ID) ([]byte, error)
}

// Driver runs one validator's ordering engine for a single epoch.
type Driver struct {
	log         log.Logger
	registerer  metric.Registerer
	clock       mockable.Clock
	config      Config
	self        ids.NodeID
	signer      Signer
	verifier    types.Verifier
	store       *dag.Store
	anchors     election.AnchorElection
	broadcaster *broadcast.Broadcaster
	commitLog   *storage.CommitLog
	notifier    order.Notifier

	// ruleLock serializes the order rule, which is not re-entrant, and
	// guards votes, rule and replayedOrdered.
	ruleLock sync.Mutex
	rule     *order.Rule

	// replayedOrdered holds the digests the commit log already ordered.
	// The DAG itself is not persisted, so when peers re-deliver an old
	// node it must rejoin the store already marked ordered, or a later
	// indirect commit would emit it twice.
	replayedOrdered set.Set[ids.ID]

	// votes records the digest this validator voted for per (round, author)
	// slot, so it never signs two conflicting nodes.
	votes map[types.AuthorRound]ids.ID
}

// New assembles a driver. The caller must invoke Recover before submitting
// nodes or serving requests.
func New(
	logger log.Logger,
	registerer metric.Registerer,
	config Config,
	self ids.NodeID,
	signer Signer,
	verifier types.Verifier,
	db database.Database,
	sender broadcast.Sender,
	notifier order.Notifier,
) (*Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := dag.NewStore(config.Epoch, logger, registerer)
	if err != nil {
		return nil, err
	}
	commitLog, err := storage.NewCommitLog(logger, db, config.Epoch)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		log:        logger,
		registerer: registerer,
		config:     config,
		self:       self,
		signer:     signer,
		verifier:   verifier,
		store:      store,
		anchors:    election.NewLeaderReputation(verifier.Authors()),
		commitLog:  commitLog,
		notifier:   notifier,
		votes:      make(map[types.AuthorRound]ids.ID),
	}
	d.broadcaster, err = broadcast.New(logger, registerer, self, sender, d, config.Backoff)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Recover replays the persisted commit history: reputation updates are
// re-applied to the election, already-ordered nodes are marked in the
// store, and the order rule resumes just above the last committed anchor.
// A final rescan catches anchors that became orderable while offline.
func (d *Driver) Recover() error {
	d.ruleLock.Lock()
	defer d.ruleLock.Unlock()

	lowestUnordered := types.Round(0)
	replayed := 0
	d.replayedOrdered = set.NewSet[ids.ID](0)
	err := d.commitLog.Replay(func(event *types.CommitEvent) error {
		d.anchors.UpdateReputation(event)
		d.store.MarkOrderedByDigest(event.OrderedDigests)
		d.replayedOrdered.Add(event.OrderedDigests...)
		lowestUnordered = event.AnchorRound + 1
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit log replay: %w", err)
	}

	rule, err := order.NewRule(
		d.log,
		d.registerer,
		d.config.Epoch,
		d.config.Window,
		d.store,
		d.anchors,
		d.verifier,
		d.notifier,
		order.CommitListenerFunc(d.onCommit),
		lowestUnordered,
	)
	if err != nil {
		return err
	}
	d.rule = rule

	d.log.Info("recovered ordering state",
		log.Int("replayedCommits", replayed),
		log.Uint64("lowestUnordered", uint64(lowestUnordered)),
	)
	d.rule.ProcessAll()
	return nil
}

// onCommit persists the commit event before it influences future elections,
// then releases state the commit made final. Called while ruleLock is held.
func (d *Driver) onCommit(event *types.CommitEvent) {
	if err := d.commitLog.Append(event); err != nil {
		// Recovery replays this log; losing an event here would fork this
		// validator from its own history.
		d.log.Error("failed to persist commit event",
			log.Stringer("event", event),
			log.Err(err),
		)
		panic(err)
	}

	// Rounds below the anchor's causal window can never be ordered by a
	// later anchor, so the store may drop them.
	if event.AnchorRound > d.config.Window {
		d.store.PruneBelow(event.AnchorRound - d.config.Window)
	}
	// Slots at or below the committed anchor are final; no vote for them
	// can matter again.
	for slot := range d.votes {
		if slot.Round <= event.AnchorRound {
			delete(d.votes, slot)
		}
	}
}

// SubmitNode builds this validator's node on the given parents, certifies
// it with a quorum of votes, and disseminates the certified node until a
// quorum acknowledges storage. The local copy is inserted through the same
// handler path as remote copies.
func (d *Driver) SubmitNode(ctx context.Context, parents []types.NodeMetadata) (*types.CertifiedNode, error) {
	round := types.Round(1)
	if len(parents) > 0 {
		round = parents[0].Round + 1
	}
	node, err := types.NewNode(d.config.Epoch, round, d.self, d.clock.Unix(), parents)
	if err != nil {
		return nil, err
	}

	request, err := message.Build(&message.NodeBroadcast{Node: *node})
	if err != nil {
		return nil, err
	}
	certificate, err := broadcast.Multicast(
		ctx,
		d.broadcaster,
		request,
		broadcast.NewCertificateAggregator(node.Metadata.Digest, d.verifier),
		d.verifier.Authors(),
	)
	if err != nil {
		return nil, fmt.Errorf("collecting votes for round %d: %w", round, err)
	}

	certified := &types.CertifiedNode{
		Node:        *node,
		Certificate: *certificate,
	}
	request, err = message.Build(&message.CertifiedNodeBroadcast{CertifiedNode: *certified})
	if err != nil {
		return nil, err
	}
	if _, err := broadcast.Multicast(
		ctx,
		d.broadcaster,
		request,
		broadcast.NewAckAggregator(node.Metadata.Digest, d.verifier),
		d.verifier.Authors(),
	); err != nil {
		return nil, fmt.Errorf("disseminating round %d node: %w", round, err)
	}
	return certified, nil
}

// HandleRequest serves one peer request: parse, dispatch, serialize the
// response. It backs both the network receive path and local self-sends.
func (d *Driver) HandleRequest(_ context.Context, from ids.NodeID, requestBytes []byte) ([]byte, error) {
	msg, err := message.Parse(requestBytes)
	if err != nil {
		return nil, err
	}
	response, err := msg.Handle(d, from)
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, nil
	}
	return message.Build(response)
}

// HandleNodeBroadcast votes for a well-formed node, refusing to equivocate:
// at most one digest is ever signed per (round, author) slot.
func (d *Driver) HandleNodeBroadcast(from ids.NodeID, msg *message.NodeBroadcast) (message.Message, error) {
	node := msg.Node
	if node.Metadata.Epoch != d.config.Epoch {
		return nil, fmt.Errorf("%w: epoch %d", ErrUnexpectedNode, node.Metadata.Epoch)
	}
	if node.Metadata.Author != from {
		return nil, fmt.Errorf("%w: author %s sent by %s", ErrUnexpectedNode, node.Metadata.Author, from)
	}
	if !d.verifier.Contains(node.Metadata.Author) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSigner, node.Metadata.Author)
	}
	if err := node.Verify(); err != nil {
		return nil, err
	}

	slot := types.AuthorRound{Round: node.Metadata.Round, Author: node.Metadata.Author}

	d.ruleLock.Lock()
	voted, ok := d.votes[slot]
	if ok && voted != node.Metadata.Digest {
		d.ruleLock.Unlock()
		d.log.Warn("refusing to double-vote",
			log.Stringer("slot", slot.Author),
			log.Uint64("round", uint64(slot.Round)),
			log.Stringer("voted", voted),
			log.Stringer("requested", node.Metadata.Digest),
		)
		return nil, ErrVoteConflict
	}
	d.votes[slot] = node.Metadata.Digest
	d.ruleLock.Unlock()

	signature, err := d.signer.Sign(node.Metadata.Digest)
	if err != nil {
		return nil, err
	}
	return &message.VoteResponse{
		Vote: types.Vote{
			Digest:    node.Metadata.Digest,
			Signer:    d.self,
			Signature: signature,
		},
	}, nil
}

// HandleCertifiedNodeBroadcast verifies and stores a certified node, runs
// the order rule, and acknowledges storage. Equivocation is recorded but
// still acked: the certificate proves a quorum saw this node, so refusing
// to ack would only stall the sender.
func (d *Driver) HandleCertifiedNodeBroadcast(from ids.NodeID, msg *message.CertifiedNodeBroadcast) (message.Message, error) {
	certified := msg.CertifiedNode
	if err := certified.Verify(d.verifier); err != nil {
		return nil, err
	}

	d.ruleLock.Lock()
	defer d.ruleLock.Unlock()
	if d.rule == nil {
		return nil, ErrNotRecovered
	}

	if err := d.store.Insert(&certified); err != nil {
		if !errors.Is(err, dag.ErrEquivocation) {
			return nil, err
		}
		d.log.Warn("equivocating certified node",
			log.Stringer("author", certified.Author()),
			log.Uint64("round", uint64(certified.Round())),
			log.Stringer("from", from),
		)
	}
	if d.replayedOrdered.Contains(certified.Digest()) {
		d.store.MarkOrderedByDigest([]ids.ID{certified.Digest()})
	} else {
		d.rule.ProcessNewNode(certified.Metadata())
	}

	return &message.AckResponse{
		Digest: certified.Digest(),
		Signer: d.self,
	}, nil
}

func (d *Driver) HandleVoteResponse(from ids.NodeID, _ *message.VoteResponse) (message.Message, error) {
	d.log.Debug("dropping unexpected VoteResponse request",
		log.Stringer("nodeID", from),
	)
	return nil, nil
}

func (d *Driver) HandleAckResponse(from ids.NodeID, _ *message.AckResponse) (message.Message, error) {
	d.log.Debug("dropping unexpected AckResponse request",
		log.Stringer("nodeID", from),
	)
	return nil, nil
}

// LowestUnorderedAnchorRound exposes the rule cursor for observability.
func (d *Driver) LowestUnorderedAnchorRound() types.Round {
	d.ruleLock.Lock()
	defer d.ruleLock.Unlock()
	if d.rule == nil {
		return 0
	}
	return d.rule.LowestUnorderedAnchorRound()
}

// Shutdown stops in-flight broadcasts and closes the commit log.
func (d *Driver) Shutdown() error {
	d.broadcaster.Stop()
	return d.commitLog.Close()
}
