package peerprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPieceMessage(t *testing.T) {
	b, err := PieceMessage{Index: 1, Begin: 16384, Data: []byte("foo")}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0x40, 0, 'f', 'o', 'o'}, b)

	var pm PieceMessage
	require.NoError(t, pm.UnmarshalBinary(b))
	assert.Equal(t, uint32(1), pm.Index)
	assert.Equal(t, uint32(16384), pm.Begin)
	assert.Equal(t, "foo", string(pm.Data))

	assert.Error(t, pm.UnmarshalBinary([]byte{1, 2, 3}))
}

func TestRequestMessage(t *testing.T) {
	var rm RequestMessage
	assert.Error(t, rm.UnmarshalBinary(make([]byte, 11)))
	require.NoError(t, rm.UnmarshalBinary([]byte{0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4}))
	assert.Equal(t, RequestMessage{2, 3, 4}, rm)
}

func TestMetadataMessage(t *testing.T) {
	msg := ExtensionMessage{
		ExtendedMessageID: ExtensionIDMetadata,
		Payload: ExtensionMetadataMessage{
			Type:      ExtensionMetadataMessageTypeData,
			Piece:     0,
			TotalSize: 4,
			Data:      []byte("data"),
		},
	}
	b, err := msg.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, "\x01d8:msg_typei1e5:piecei0e10:total_sizei4ee"+"data", string(b))

	var em ExtensionMessage
	require.NoError(t, em.UnmarshalBinary(b))
	mm, ok := em.Payload.(ExtensionMetadataMessage)
	require.True(t, ok)
	assert.Equal(t, 4, mm.TotalSize)
	assert.Equal(t, "data", string(mm.Data))
}

func TestExtensionHandshake(t *testing.T) {
	msg := ExtensionMessage{
		ExtendedMessageID: ExtensionIDHandshake,
		Payload:           NewExtensionHandshake(1234, "test", 250),
	}
	b, err := msg.MarshalBinary()
	require.NoError(t, err)

	var em ExtensionMessage
	require.NoError(t, em.UnmarshalBinary(b))
	hm, ok := em.Payload.(ExtensionHandshakeMessage)
	require.True(t, ok)
	assert.Equal(t, 1234, hm.MetadataSize)
	assert.Equal(t, uint8(ExtensionIDMetadata), hm.M[ExtensionKeyMetadata])
	assert.Equal(t, 250, hm.RequestQueue)

	assert.Error(t, em.UnmarshalBinary([]byte{9}))
}
