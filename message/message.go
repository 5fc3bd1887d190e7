// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package message

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/dagbft/types"
)

var (
	_ Message = (*NodeBroadcast)(nil)
	_ Message = (*VoteResponse)(nil)
	_ Message = (*CertifiedNodeBroadcast)(nil)
	_ Message = (*AckResponse)(nil)

	ErrUnknownMessageType = errors.New("unknown message type")
)

// Message is a wire message exchanged between validators during node
// dissemination. Requests (NodeBroadcast, CertifiedNodeBroadcast) are
// dispatched through a Handler; responses (VoteResponse, AckResponse)
// travel back on the request path and are consumed by the sender.
type Message interface {
	// Handle dispatches this message to the provided handler.
	Handle(handler Handler, from ids.NodeID) (Message, error)

	// initialize the message with the binary representation
	initialize(bytes []byte)

	// Bytes returns the binary representation of this message
	Bytes() []byte
}

type message []byte

func (m *message) initialize(bytes []byte) {
	*m = bytes
}

func (m *message) Bytes() []byte {
	return *m
}

// NodeBroadcast asks a validator to vote on an uncertified node.
type NodeBroadcast struct {
	message

	Node types.Node `serialize:"true"`
}

func (m *NodeBroadcast) Handle(handler Handler, from ids.NodeID) (Message, error) {
	return handler.HandleNodeBroadcast(from, m)
}

// VoteResponse carries a validator's signature over a node digest.
type VoteResponse struct {
	message

	Vote types.Vote `serialize:"true"`
}

func (m *VoteResponse) Handle(handler Handler, from ids.NodeID) (Message, error) {
	return handler.HandleVoteResponse(from, m)
}

// CertifiedNodeBroadcast disseminates a node along with its quorum
// certificate.
type CertifiedNodeBroadcast struct {
	message

	CertifiedNode types.CertifiedNode `serialize:"true"`
}

func (m *CertifiedNodeBroadcast) Handle(handler Handler, from ids.NodeID) (Message, error) {
	return handler.HandleCertifiedNodeBroadcast(from, m)
}

// AckResponse acknowledges receipt and storage of a certified node.
type AckResponse struct {
	message

	Digest ids.ID     `serialize:"true"`
	Signer ids.NodeID `serialize:"true"`
}

func (m *AckResponse) Handle(handler Handler, from ids.NodeID) (Message, error) {
	return handler.HandleAckResponse(from, m)
}

// Parse attempts to deserialize bytes into a Message
func Parse(bytes []byte) (Message, error) {
	var msg Message
	version, err := c.Unmarshal(bytes, &msg)
	if err != nil {
		return nil, err
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: invalid codec version %d", ErrUnknownMessageType, version)
	}
	msg.initialize(bytes)
	return msg, nil
}

// Build serializes the message and caches its binary representation.
func Build(msg Message) ([]byte, error) {
	bytes, err := c.Marshal(codecVersion, &msg)
	if err != nil {
		return nil, err
	}
	msg.initialize(bytes)
	return bytes, nil
}
