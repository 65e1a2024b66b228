package txdecode

import (
	"testing"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/wire"
	"github.com/stretchr/testify/require"
)

func legacyBytes() []byte {
	buf := wire.PutCompactU16(nil, 1)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, 0x01, 0x00, 0x00)
	buf = wire.PutCompactU16(buf, 2)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, make([]byte, 32)...)
	buf = wire.PutCompactU16(buf, 1)
	buf = append(buf, 0x00)
	buf = wire.PutCompactU16(buf, 1)
	buf = append(buf, 0x01)
	buf = wire.PutCompactU16(buf, 2)
	buf = append(buf, 0xAA, 0xBB)
	return buf
}

func versionedBytes() []byte {
	buf := wire.PutCompactU16(nil, 1)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, 0x80, 0x01, 0x00, 0x00)
	buf = wire.PutCompactU16(buf, 2)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, make([]byte, 32)...)
	buf = wire.PutCompactU16(buf, 1)
	buf = append(buf, 0x00)
	buf = wire.PutCompactU16(buf, 1)
	buf = append(buf, 0x01)
	buf = wire.PutCompactU16(buf, 1)
	buf = append(buf, 0xCC)
	buf = wire.PutCompactU16(buf, 1) // 1 lookup ref
	buf = append(buf, make([]byte, 32)...)
	buf = wire.PutCompactU16(buf, 1)
	buf = append(buf, 0x02)
	buf = wire.PutCompactU16(buf, 1)
	buf = append(buf, 0x03)
	return buf
}

func TestDecodeLegacy(t *testing.T) {
	tx, err := Decode(legacyBytes())
	require.NoError(t, err)
	require.Equal(t, model.VersionLegacy, tx.Version)
	require.Len(t, tx.AccountKeysStatic, 2)
	require.Len(t, tx.Instructions, 1)
	require.Equal(t, []byte{0xAA, 0xBB}, tx.Instructions[0].Data)
	require.Empty(t, tx.LookupRefs)
}

func TestDecodeVersioned(t *testing.T) {
	tx, err := Decode(versionedBytes())
	require.NoError(t, err)
	require.Equal(t, model.VersionV0, tx.Version)
	require.Len(t, tx.LookupRefs, 1)
	require.Equal(t, []uint8{0x02}, tx.LookupRefs[0].WritableIxs)
	require.Equal(t, []uint8{0x03}, tx.LookupRefs[0].ReadonlyIxs)
}

func TestDecodeBothFail(t *testing.T) {
	_, err := Decode([]byte{0x80})
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}
