// Package shred implements the entry decoder: turning a single
// slot's shred-stream payload into the list of raw transaction byte
// blobs carried by each entry in that slot.
package shred

import (
	"encoding/binary"
	"fmt"

	"github.com/obsrvr-systems/solana-copytrader/internal/wire"
)

// MalformedEntry is returned when a payload's length prefixes exceed
// the buffer, or when a transaction's wire-form scan measures zero
// length while the entry claims a nonzero transaction count.
type MalformedEntry struct {
	Slot   uint64
	Reason string
}

func (e *MalformedEntry) Error() string {
	return fmt.Sprintf("shred: malformed entry in slot %d: %s", e.Slot, e.Reason)
}

// Entry is one shred-entry's worth of raw transaction blobs.
type Entry struct {
	HashCount    uint64
	Transactions [][]byte
}

const u64Len = 8
const pohHashLen = 32

// DecodeEntries parses a slot's shred-stream payload into its
// constituent entries. The payload format is a u64-LE entry count
// followed, per entry, by { hash_count u64-LE, poh_hash 32B, tx_count
// u64-LE, transactions (each measured in place via the wire-form
// scanner) }.
func DecodeEntries(slot uint64, payload []byte) ([]Entry, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	offset := 0
	entryCount, err := readU64(payload, offset, slot)
	if err != nil {
		return nil, err
	}
	offset += u64Len
	if entryCount > uint64(len(payload)-offset) {
		return nil, &MalformedEntry{Slot: slot, Reason: "entry count exceeds payload"}
	}

	entries := make([]Entry, 0, entryCount)
	for i := uint64(0); i < entryCount; i++ {
		hashCount, err := readU64(payload, offset, slot)
		if err != nil {
			return nil, err
		}
		offset += u64Len

		if offset+pohHashLen > len(payload) {
			return nil, &MalformedEntry{Slot: slot, Reason: "poh hash truncated"}
		}
		offset += pohHashLen

		txCount, err := readU64(payload, offset, slot)
		if err != nil {
			return nil, err
		}
		offset += u64Len
		if txCount > uint64(len(payload)-offset) {
			return nil, &MalformedEntry{Slot: slot, Reason: "tx count exceeds payload"}
		}

		txs := make([][]byte, 0, txCount)
		for j := uint64(0); j < txCount; j++ {
			length, err := wire.MeasureTransaction(payload, offset)
			if err != nil {
				return nil, &MalformedEntry{Slot: slot, Reason: fmt.Sprintf("tx %d scan failed: %v", j, err)}
			}
			if length == 0 {
				return nil, &MalformedEntry{Slot: slot, Reason: fmt.Sprintf("tx %d measured zero length", j)}
			}
			txs = append(txs, payload[offset:offset+length])
			offset += length
		}

		entries = append(entries, Entry{HashCount: hashCount, Transactions: txs})
	}

	return entries, nil
}

func readU64(buf []byte, offset int, slot uint64) (uint64, error) {
	if offset+u64Len > len(buf) {
		return 0, &MalformedEntry{Slot: slot, Reason: "length prefix truncated"}
	}
	return binary.LittleEndian.Uint64(buf[offset : offset+u64Len]), nil
}
