// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/dagbft/message"
	"github.com/luxfi/dagbft/types"
)

func TestCertificateAggregatorRejects(t *testing.T) {
	authors, verifier := newTestAuthors(t, 4)
	digest := ids.GenerateTestID()
	outsider := ids.GenerateTestNodeID()

	tests := []struct {
		name     string
		peer     ids.NodeID
		response []byte
		wantErr  error
	}{
		{
			name:     "garbage bytes",
			peer:     authors[0],
			response: []byte{0xff, 0xff},
		},
		{
			name:     "wrong digest",
			peer:     authors[0],
			response: voteResponse(t, ids.GenerateTestID(), authors[0]),
			wantErr:  ErrWrongDigest,
		},
		{
			name:     "signer impersonation",
			peer:     authors[0],
			response: voteResponse(t, digest, authors[1]),
			wantErr:  ErrWrongSigner,
		},
		{
			name:     "signer outside validator set",
			peer:     outsider,
			response: voteResponse(t, digest, outsider),
			wantErr:  types.ErrUnknownSigner,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			agg := NewCertificateAggregator(digest, verifier)
			cert, err := agg.Add(tt.peer, tt.response)
			require.Error(err)
			if tt.wantErr != nil {
				require.ErrorIs(err, tt.wantErr)
			}
			require.Nil(cert)
		})
	}
}

func TestCertificateAggregatorDuplicateVote(t *testing.T) {
	require := require.New(t)

	authors, verifier := newTestAuthors(t, 4)
	digest := ids.GenerateTestID()

	agg := NewCertificateAggregator(digest, verifier)

	// The same vote absorbed three times counts once.
	for i := 0; i < 3; i++ {
		cert, err := agg.Add(authors[0], voteResponse(t, digest, authors[0]))
		require.NoError(err)
		require.Nil(cert)
	}

	cert, err := agg.Add(authors[1], voteResponse(t, digest, authors[1]))
	require.NoError(err)
	require.Nil(cert)

	cert, err = agg.Add(authors[2], voteResponse(t, digest, authors[2]))
	require.NoError(err)
	require.NotNil(cert)
	require.Len(cert.Signers, 3)
}

func ackResponse(t *testing.T, digest ids.ID, signer ids.NodeID) []byte {
	t.Helper()
	bytes, err := message.Build(&message.AckResponse{
		Digest: digest,
		Signer: signer,
	})
	require.NoError(t, err)
	return bytes
}

func TestAckAggregatorQuorum(t *testing.T) {
	require := require.New(t)

	authors, verifier := newTestAuthors(t, 4)
	digest := ids.GenerateTestID()

	agg := NewAckAggregator(digest, verifier)

	acked, err := agg.Add(authors[0], ackResponse(t, digest, authors[0]))
	require.NoError(err)
	require.Nil(acked)

	acked, err = agg.Add(authors[1], ackResponse(t, digest, authors[1]))
	require.NoError(err)
	require.Nil(acked)

	acked, err = agg.Add(authors[2], ackResponse(t, digest, authors[2]))
	require.NoError(err)
	require.NotNil(acked)
	require.Equal(3, acked.Len())
	for _, author := range authors[:3] {
		require.True(acked.Contains(author))
	}
}

func TestAckAggregatorRejectsVoteResponse(t *testing.T) {
	require := require.New(t)

	authors, verifier := newTestAuthors(t, 4)
	digest := ids.GenerateTestID()

	agg := NewAckAggregator(digest, verifier)
	_, err := agg.Add(authors[0], voteResponse(t, digest, authors[0]))
	require.ErrorIs(err, ErrUnexpectedResponse)
}
