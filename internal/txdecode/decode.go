// Package txdecode implements the transaction decoder: turning a
// single raw transaction byte blob into a structured
// model.DecodedTransaction. It attempts a versioned decode first and
// falls back to legacy on structural failure.
package txdecode

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/wire"
)

// DecodeError wraps the underlying legacy and versioned decode
// failures when both attempts fail.
type DecodeError struct {
	VersionedErr error
	LegacyErr    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("txdecode: both versioned (%v) and legacy (%v) decode failed", e.VersionedErr, e.LegacyErr)
}

// Decode parses a single transaction's wire bytes into a
// DecodedTransaction. It returns *DecodeError only if neither a
// versioned nor a legacy parse succeeds.
func Decode(txBytes []byte) (model.DecodedTransaction, error) {
	if tx, err := decodeVersioned(txBytes); err == nil {
		return tx, nil
	} else if legacy, legacyErr := decodeLegacy(txBytes); legacyErr == nil {
		return legacy, nil
	} else {
		return model.DecodedTransaction{}, &DecodeError{VersionedErr: err, LegacyErr: legacyErr}
	}
}

func readSignatures(buf []byte, offset int) ([]solana.Signature, int, error) {
	count, n, err := wire.ReadCompactU16(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	offset += n
	sigs := make([]solana.Signature, 0, count)
	for i := uint16(0); i < count; i++ {
		if offset+64 > len(buf) {
			return nil, 0, wire.ErrTruncated
		}
		var sig solana.Signature
		copy(sig[:], buf[offset:offset+64])
		sigs = append(sigs, sig)
		offset += 64
	}
	return sigs, offset, nil
}

func readPublicKeys(buf []byte, offset int, count uint16) ([]solana.PublicKey, int, error) {
	keys := make([]solana.PublicKey, 0, count)
	for i := uint16(0); i < count; i++ {
		if offset+32 > len(buf) {
			return nil, 0, wire.ErrTruncated
		}
		var pk solana.PublicKey
		copy(pk[:], buf[offset:offset+32])
		keys = append(keys, pk)
		offset += 32
	}
	return keys, offset, nil
}

func readInstructions(buf []byte, offset int) ([]model.CompiledInstruction, int, error) {
	count, n, err := wire.ReadCompactU16(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	offset += n
	instrs := make([]model.CompiledInstruction, 0, count)
	for i := uint16(0); i < count; i++ {
		if offset+1 > len(buf) {
			return nil, 0, wire.ErrTruncated
		}
		programIdx := buf[offset]
		offset++

		acctCount, n, err := wire.ReadCompactU16(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		offset += n
		if offset+int(acctCount) > len(buf) {
			return nil, 0, wire.ErrTruncated
		}
		acctIdxs := append([]uint8(nil), buf[offset:offset+int(acctCount)]...)
		offset += int(acctCount)

		dataLen, n, err := wire.ReadCompactU16(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		offset += n
		if offset+int(dataLen) > len(buf) {
			return nil, 0, wire.ErrTruncated
		}
		data := append([]byte(nil), buf[offset:offset+int(dataLen)]...)
		offset += int(dataLen)

		instrs = append(instrs, model.CompiledInstruction{
			ProgramIDIndex: programIdx,
			AccountIdxs:    acctIdxs,
			Data:           data,
		})
	}
	return instrs, offset, nil
}

func decodeLegacy(buf []byte) (model.DecodedTransaction, error) {
	offset := 0
	sigs, offset, err := readSignatures(buf, offset)
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	if len(sigs) == 0 {
		return model.DecodedTransaction{}, fmt.Errorf("txdecode: no signatures")
	}

	if offset+3 > len(buf) {
		return model.DecodedTransaction{}, wire.ErrTruncated
	}
	offset += 3 // message header

	keyCount, n, err := wire.ReadCompactU16(buf, offset)
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	offset += n
	keys, offset, err := readPublicKeys(buf, offset, keyCount)
	if err != nil {
		return model.DecodedTransaction{}, err
	}

	if offset+32 > len(buf) {
		return model.DecodedTransaction{}, wire.ErrTruncated
	}
	offset += 32 // blockhash

	instrs, _, err := readInstructions(buf, offset)
	if err != nil {
		return model.DecodedTransaction{}, err
	}

	return model.DecodedTransaction{
		Signature:         sigs[0],
		AccountKeysStatic: keys,
		Version:           model.VersionLegacy,
		Instructions:      instrs,
	}, nil
}

func decodeVersioned(buf []byte) (model.DecodedTransaction, error) {
	offset := 0
	sigs, offset, err := readSignatures(buf, offset)
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	if len(sigs) == 0 {
		return model.DecodedTransaction{}, fmt.Errorf("txdecode: no signatures")
	}

	if offset >= len(buf) || buf[offset] != 0x80 {
		return model.DecodedTransaction{}, fmt.Errorf("txdecode: not a versioned message")
	}
	offset++

	if offset+3 > len(buf) {
		return model.DecodedTransaction{}, wire.ErrTruncated
	}
	offset += 3 // message header

	keyCount, n, err := wire.ReadCompactU16(buf, offset)
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	offset += n
	keys, offset, err := readPublicKeys(buf, offset, keyCount)
	if err != nil {
		return model.DecodedTransaction{}, err
	}

	if offset+32 > len(buf) {
		return model.DecodedTransaction{}, wire.ErrTruncated
	}
	offset += 32 // blockhash

	instrs, offset, err := readInstructions(buf, offset)
	if err != nil {
		return model.DecodedTransaction{}, err
	}

	lookupCount, n, err := wire.ReadCompactU16(buf, offset)
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	offset += n

	refs := make([]model.LookupRef, 0, lookupCount)
	for i := uint16(0); i < lookupCount; i++ {
		if offset+32 > len(buf) {
			return model.DecodedTransaction{}, wire.ErrTruncated
		}
		var table solana.PublicKey
		copy(table[:], buf[offset:offset+32])
		offset += 32

		writableLen, n, err := wire.ReadCompactU16(buf, offset)
		if err != nil {
			return model.DecodedTransaction{}, err
		}
		offset += n
		if offset+int(writableLen) > len(buf) {
			return model.DecodedTransaction{}, wire.ErrTruncated
		}
		writable := append([]uint8(nil), buf[offset:offset+int(writableLen)]...)
		offset += int(writableLen)

		readonlyLen, n, err := wire.ReadCompactU16(buf, offset)
		if err != nil {
			return model.DecodedTransaction{}, err
		}
		offset += n
		if offset+int(readonlyLen) > len(buf) {
			return model.DecodedTransaction{}, wire.ErrTruncated
		}
		readonly := append([]uint8(nil), buf[offset:offset+int(readonlyLen)]...)
		offset += int(readonlyLen)

		refs = append(refs, model.LookupRef{Table: table, WritableIxs: writable, ReadonlyIxs: readonly})
	}

	return model.DecodedTransaction{
		Signature:         sigs[0],
		AccountKeysStatic: keys,
		Version:           model.VersionV0,
		Instructions:      instrs,
		LookupRefs:        refs,
	}, nil
}
