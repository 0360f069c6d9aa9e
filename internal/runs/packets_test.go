package runs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayloadPacket(t *testing.T) {
	t.Run("json payload is marshaled inline", func(t *testing.T) {
		packet, err := CreatePayloadPacket(map[string]any{"to": "a@b"}, PacketTypeJSON)
		require.NoError(t, err)
		assert.Equal(t, `{"to":"a@b"}`, packet.Data)
		assert.Equal(t, PacketTypeJSON, packet.DataType)
	})

	t.Run("string payload passes through", func(t *testing.T) {
		packet, err := CreatePayloadPacket("hello", PacketTypeText)
		require.NoError(t, err)
		assert.Equal(t, "hello", packet.Data)
		assert.Equal(t, PacketTypeText, packet.DataType)
	})

	t.Run("non-string non-json yields empty packet", func(t *testing.T) {
		packet, err := CreatePayloadPacket(42, "application/octet-stream")
		require.NoError(t, err)
		assert.Empty(t, packet.Data)
		assert.Equal(t, "application/octet-stream", packet.DataType)
	})

	t.Run("unmarshalable json payload fails", func(t *testing.T) {
		_, err := CreatePayloadPacket(func() {}, PacketTypeJSON)
		assert.Error(t, err)
	})
}

func TestPacketRequiresOffloading(t *testing.T) {
	small := IOPacket{Data: "tiny", DataType: PacketTypeJSON}
	needs, size := PacketRequiresOffloading(small, 1024)
	assert.False(t, needs)
	assert.Equal(t, 4, size)

	big := IOPacket{Data: strings.Repeat("x", 2048), DataType: PacketTypeJSON}
	needs, size = PacketRequiresOffloading(big, 1024)
	assert.True(t, needs)
	assert.Equal(t, 2048, size)

	// Exactly at threshold stays inline.
	edge := IOPacket{Data: strings.Repeat("x", 1024), DataType: PacketTypeJSON}
	needs, _ = PacketRequiresOffloading(edge, 1024)
	assert.False(t, needs)
}

func TestHandleMetadataPacket(t *testing.T) {
	t.Run("nil metadata yields nil packet", func(t *testing.T) {
		packet, err := HandleMetadataPacket(nil, PacketTypeJSON)
		require.NoError(t, err)
		assert.Nil(t, packet)
	})

	t.Run("json metadata", func(t *testing.T) {
		packet, err := HandleMetadataPacket(map[string]any{"source": "api"}, PacketTypeJSON)
		require.NoError(t, err)
		require.NotNil(t, packet)
		assert.Equal(t, `{"source":"api"}`, packet.Data)
		assert.Equal(t, PacketTypeJSON, packet.DataType)
	})
}
