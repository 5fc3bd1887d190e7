// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage persists commit events. The log is the only durable state
// of the ordering core: replaying it after a restart reconstructs anchor
// reputation and the ordered frontier.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"

	"github.com/luxfi/dagbft/types"
)

var (
	commitPrefix = []byte("commit")

	ErrStaleCommit = errors.New("commit round not above latest logged commit")
	ErrClosed      = errors.New("commit log closed")
)

// CommitLog is an append-only log of commit events keyed by anchor round.
// Keys are big-endian, so iteration yields events in commit order.
type CommitLog struct {
	log   log.Logger
	db    database.Database
	epoch uint64

	latest    uint64
	hasLatest bool
	closed    bool
}

// NewCommitLog opens the commit log for one epoch on top of db. The caller
// retains ownership of db; Close releases only the prefix view.
func NewCommitLog(logger log.Logger, db database.Database, epoch uint64) (*CommitLog, error) {
	epochPrefix := database.PackUInt64(epoch)
	prefixed := prefixdb.New(append(commitPrefix, epochPrefix...), db)

	l := &CommitLog{
		log:   logger,
		db:    prefixed,
		epoch: epoch,
	}

	// Recover the append cursor from the highest stored key.
	it := prefixed.NewIterator()
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != 8 {
			return nil, fmt.Errorf("corrupt commit log key of length %d", len(key))
		}
		l.latest = binary.BigEndian.Uint64(key)
		l.hasLatest = true
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return l, nil
}

// Append durably stores one commit event. Events must arrive in strictly
// increasing anchor-round order.
func (l *CommitLog) Append(event *types.CommitEvent) error {
	if l.closed {
		return ErrClosed
	}
	if event.Epoch != l.epoch {
		return fmt.Errorf("commit for epoch %d appended to epoch %d log", event.Epoch, l.epoch)
	}
	round := uint64(event.AnchorRound)
	if l.hasLatest && round <= l.latest {
		return fmt.Errorf("%w: %d <= %d", ErrStaleCommit, round, l.latest)
	}

	bytes, err := c.Marshal(codecVersion, event)
	if err != nil {
		return err
	}
	if err := l.db.Put(database.PackUInt64(round), bytes); err != nil {
		return err
	}
	l.latest = round
	l.hasLatest = true

	l.log.Debug("appended commit event",
		log.Uint64("round", round),
		log.Int("ordered", len(event.OrderedDigests)),
	)
	return nil
}

// Replay invokes fn on every stored commit event in commit order. Replay
// stops at the first error from fn.
func (l *CommitLog) Replay(fn func(*types.CommitEvent) error) error {
	if l.closed {
		return ErrClosed
	}
	it := l.db.NewIterator()
	defer it.Release()

	for it.Next() {
		event := &types.CommitEvent{}
		if _, err := c.Unmarshal(it.Value(), event); err != nil {
			return fmt.Errorf("corrupt commit log entry: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return it.Error()
}

// LatestRound returns the anchor round of the most recent logged commit and
// whether any commit has been logged.
func (l *CommitLog) LatestRound() (types.Round, bool) {
	return types.Round(l.latest), l.hasLatest
}

// Close detaches the log. The underlying database belongs to the caller and
// stays open; closing the prefix view would close it too.
func (l *CommitLog) Close() error {
	l.closed = true
	return nil
}
