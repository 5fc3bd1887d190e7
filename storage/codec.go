// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/constants"
	"github.com/luxfi/utils"
)

const (
	codecVersion = 0

	// A commit event carries the digests of every node it ordered, so the
	// bound scales with validator count times the ordering window.
	maxEventSize = 1 * constants.MiB
)

var c codec.Manager

func init() {
	c = codec.NewManager(maxEventSize)
	lc := linearcodec.NewDefault()

	err := utils.Err(
		c.RegisterCodec(codecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}
