package esb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAddressTable(t *testing.T) {
	a := defaultAddressTable()
	assert.Equal(t, []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}, a.pipeAddress(0))
	assert.Equal(t, []byte{0xC2, 0xC2, 0xC2, 0xC2, 0xC2}, a.pipeAddress(1))
	assert.Equal(t, []byte{0xC8, 0xC2, 0xC2, 0xC2, 0xC2}, a.pipeAddress(7))
	assert.Len(t, a.listenAddresses(), MaxPipes)
	assert.Equal(t, uint8(2), a.channel)
}

func TestPipeAddressUsesLength(t *testing.T) {
	a := defaultAddressTable()
	a.base1 = Address{0x10, 0x20, 0x30, 0x40}
	require.NoError(t, a.updatePrefix(3, 0x42))
	require.NoError(t, a.setLength(3))
	assert.Equal(t, []byte{0x42, 0x10, 0x20}, a.pipeAddress(3))
}

func TestSetLengthRejectsOutOfRange(t *testing.T) {
	a := defaultAddressTable()
	require.NoError(t, a.setLength(4))
	for _, n := range []int{0, 1, 6} {
		require.ErrorIs(t, a.setLength(n), ErrInvalidParam)
		assert.Equal(t, 4, a.length)
	}
}

func TestSetPrefixes(t *testing.T) {
	a := defaultAddressTable()
	require.ErrorIs(t, a.setPrefixes(nil), ErrNullArgument)
	require.ErrorIs(t, a.setPrefixes([]byte{}), ErrInvalidParam)
	require.ErrorIs(t, a.setPrefixes(make([]byte, 9)), ErrInvalidParam)

	require.NoError(t, a.setPrefixes([]byte{0x01, 0x42}))
	assert.Equal(t, 2, a.numPipes)
	assert.Equal(t, uint8(0b11), a.enabled, "pipes beyond the count are disabled")
	assert.Len(t, a.listenAddresses(), 2)
	require.ErrorIs(t, a.updatePrefix(2, 0x00), ErrInvalidParam)
}

func TestEnablePipes(t *testing.T) {
	a := defaultAddressTable()
	require.NoError(t, a.setPrefixes([]byte{1, 2, 3}))
	require.ErrorIs(t, a.enablePipes(0b1000), ErrInvalidParam)

	require.NoError(t, a.enablePipes(0b010))
	assert.False(t, a.isEnabled(0))
	assert.True(t, a.isEnabled(1))
	addrs := a.listenAddresses()
	assert.Nil(t, addrs[0])
	assert.NotNil(t, addrs[1])
	assert.Nil(t, addrs[2])
}
