// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package message

import (
	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/constants"
	"github.com/luxfi/utils"
)

const (
	codecVersion   = 0
	maxMessageSize = 256 * constants.KiB
)

// Codec does serialization and deserialization
var c codec.Manager

func init() {
	c = codec.NewManager(maxMessageSize)
	lc := linearcodec.NewDefault()

	err := utils.Err(
		lc.RegisterType(&NodeBroadcast{}),
		lc.RegisterType(&VoteResponse{}),
		lc.RegisterType(&CertifiedNodeBroadcast{}),
		lc.RegisterType(&AckResponse{}),
		c.RegisterCodec(codecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}
