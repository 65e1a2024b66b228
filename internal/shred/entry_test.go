package shred

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/obsrvr-systems/solana-copytrader/internal/wire"
	"github.com/stretchr/testify/require"
)

func appendU64(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(buf, tmp...)
}

func syntheticTx(r *rand.Rand) []byte {
	buf := wire.PutCompactU16(nil, 1)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, 0x01, 0x00, 0x00)
	buf = wire.PutCompactU16(buf, 2)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, make([]byte, 32)...)
	instrCount := uint16(r.Intn(3))
	buf = wire.PutCompactU16(buf, instrCount)
	for i := uint16(0); i < instrCount; i++ {
		buf = append(buf, 0x00)
		buf = wire.PutCompactU16(buf, 1)
		buf = append(buf, 0x01)
		dataLen := uint16(r.Intn(8))
		buf = wire.PutCompactU16(buf, dataLen)
		buf = append(buf, make([]byte, dataLen)...)
	}
	return buf
}

func buildPayload(r *rand.Rand, entryCount int, txPerEntry int) []byte {
	payload := appendU64(nil, uint64(entryCount))
	for i := 0; i < entryCount; i++ {
		payload = appendU64(payload, uint64(i))
		payload = append(payload, make([]byte, 32)...)
		payload = appendU64(payload, uint64(txPerEntry))
		for j := 0; j < txPerEntry; j++ {
			payload = append(payload, syntheticTx(r)...)
		}
	}
	return payload
}

func TestDecodeEntriesEmpty(t *testing.T) {
	entries, err := DecodeEntries(1, nil)
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestDecodeEntriesRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for n := 0; n <= 5; n++ {
		payload := buildPayload(r, n, 3)
		entries, err := DecodeEntries(99, payload)
		require.NoError(t, err)
		require.Len(t, entries, n)
		for _, e := range entries {
			require.Len(t, e.Transactions, 3)
		}
	}
}

func TestDecodeEntriesRandomizedTxCounts(t *testing.T) {
	r := rand.New(rand.NewSource(123))
	for trial := 0; trial < 50; trial++ {
		entryCount := r.Intn(4)
		payload := appendU64(nil, uint64(entryCount))
		wantCounts := make([]int, entryCount)
		for i := 0; i < entryCount; i++ {
			payload = appendU64(payload, uint64(i))
			payload = append(payload, make([]byte, 32)...)
			txCount := r.Intn(5)
			wantCounts[i] = txCount
			payload = appendU64(payload, uint64(txCount))
			for j := 0; j < txCount; j++ {
				payload = append(payload, syntheticTx(r)...)
			}
		}
		entries, err := DecodeEntries(1, payload)
		require.NoError(t, err)
		require.Len(t, entries, entryCount)
		for i, e := range entries {
			require.Len(t, e.Transactions, wantCounts[i])
		}
	}
}

func TestDecodeEntriesMalformedTruncated(t *testing.T) {
	payload := buildPayload(rand.New(rand.NewSource(1)), 1, 1)
	_, err := DecodeEntries(1, payload[:len(payload)-3])
	require.Error(t, err)
	var malformed *MalformedEntry
	require.ErrorAs(t, err, &malformed)
}
