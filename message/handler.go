// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package message

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

var _ Handler = NoopHandler{}

type Handler interface {
	HandleNodeBroadcast(nodeID ids.NodeID, msg *NodeBroadcast) (Message, error)
	HandleVoteResponse(nodeID ids.NodeID, msg *VoteResponse) (Message, error)
	HandleCertifiedNodeBroadcast(nodeID ids.NodeID, msg *CertifiedNodeBroadcast) (Message, error)
	HandleAckResponse(nodeID ids.NodeID, msg *AckResponse) (Message, error)
}

type NoopHandler struct {
	Log log.Logger
}

func (h NoopHandler) HandleNodeBroadcast(nodeID ids.NodeID, _ *NodeBroadcast) (Message, error) {
	h.Log.Debug("dropping unexpected NodeBroadcast message",
		log.Stringer("nodeID", nodeID),
	)
	return nil, nil
}

func (h NoopHandler) HandleVoteResponse(nodeID ids.NodeID, _ *VoteResponse) (Message, error) {
	h.Log.Debug("dropping unexpected VoteResponse message",
		log.Stringer("nodeID", nodeID),
	)
	return nil, nil
}

func (h NoopHandler) HandleCertifiedNodeBroadcast(nodeID ids.NodeID, _ *CertifiedNodeBroadcast) (Message, error) {
	h.Log.Debug("dropping unexpected CertifiedNodeBroadcast message",
		log.Stringer("nodeID", nodeID),
	)
	return nil, nil
}

func (h NoopHandler) HandleAckResponse(nodeID ids.NodeID, _ *AckResponse) (Message, error) {
	h.Log.Debug("dropping unexpected AckResponse message",
		log.Stringer("nodeID", nodeID),
	)
	return nil, nil
}
