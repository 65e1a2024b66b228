// Package wire implements the chain's wire-form primitives needed to
// measure and decode a raw transaction byte slice: the compact-u16
// (shortvec) varint encoding and a length-only scanner that walks a
// transaction in place without allocating a decoded representation.
package wire

import "fmt"

// ErrTruncated is returned whenever a read would run past the end of
// the supplied buffer.
var ErrTruncated = fmt.Errorf("wire: truncated buffer")

// ReadCompactU16 decodes a compact-u16 (shortvec) value starting at
// offset. It returns the decoded value, the number of bytes consumed
// (1-3), and an error if the buffer is truncated or the encoding uses
// more than three continuation bytes.
//
// Encoding: each byte contributes its low 7 bits; the high bit (0x80)
// signals that another byte follows. At most 3 bytes are valid for a
// 16-bit value.
func ReadCompactU16(buf []byte, offset int) (value uint16, n int, err error) {
	var result uint16
	for i := 0; i < 3; i++ {
		pos := offset + i
		if pos >= len(buf) {
			return 0, 0, ErrTruncated
		}
		b := buf[pos]
		result |= uint16(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("wire: compact-u16 exceeds 3 continuation bytes")
}

// PutCompactU16 appends the compact-u16 encoding of v to dst and
// returns the extended slice. Present for symmetry with decode sites
// that need to re-measure what they just built (e.g. tests); the
// pipeline itself never re-encodes a transaction.
func PutCompactU16(dst []byte, v uint16) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

func need(buf []byte, offset, n int) error {
	if offset+n > len(buf) {
		return ErrTruncated
	}
	return nil
}

// MeasureTransaction walks a single transaction's wire form starting
// at offset and returns the number of bytes it occupies. It performs
// only the structural walk needed to find the boundary: signature
// count, signature bytes, then either a versioned or legacy message.
// Returns 0 with a nil error only if the walk is structurally empty,
// which callers must treat as a measurement failure: a zero-length
// transaction inside an entry claiming a nonzero count is malformed.
func MeasureTransaction(buf []byte, offset int) (length int, err error) {
	start := offset
	sigCount, n, err := ReadCompactU16(buf, offset)
	if err != nil {
		return 0, err
	}
	offset += n
	sigBytes := int(sigCount) * 64
	if err := need(buf, offset, sigBytes); err != nil {
		return 0, err
	}
	offset += sigBytes

	if err := need(buf, offset, 1); err != nil {
		return 0, err
	}
	if buf[offset] == 0x80 {
		offset, err = measureVersionedMessage(buf, offset)
	} else {
		offset, err = measureLegacyMessage(buf, offset)
	}
	if err != nil {
		return 0, err
	}
	return offset - start, nil
}

// measureVersionedMessage walks a v0 message: the leading 0x80
// discriminator, a 3-byte header, the static-key vector, the
// blockhash, the compiled instructions and the lookup-table refs.
func measureVersionedMessage(buf []byte, offset int) (int, error) {
	if err := need(buf, offset, 1); err != nil {
		return 0, err
	}
	offset++ // 0x80 discriminator

	if err := need(buf, offset, 3); err != nil {
		return 0, err
	}
	offset += 3 // numRequiredSignatures, numReadonlySigned, numReadonlyUnsigned

	keyCount, n, err := ReadCompactU16(buf, offset)
	if err != nil {
		return 0, err
	}
	offset += n
	if err := need(buf, offset, int(keyCount)*32); err != nil {
		return 0, err
	}
	offset += int(keyCount) * 32

	if err := need(buf, offset, 32); err != nil {
		return 0, err
	}
	offset += 32 // blockhash

	instrCount, n, err := ReadCompactU16(buf, offset)
	if err != nil {
		return 0, err
	}
	offset += n
	for i := uint16(0); i < instrCount; i++ {
		if err := need(buf, offset, 1); err != nil {
			return 0, err
		}
		offset++ // program index

		acctCount, n, err := ReadCompactU16(buf, offset)
		if err != nil {
			return 0, err
		}
		offset += n
		if err := need(buf, offset, int(acctCount)); err != nil {
			return 0, err
		}
		offset += int(acctCount)

		dataLen, n, err := ReadCompactU16(buf, offset)
		if err != nil {
			return 0, err
		}
		offset += n
		if err := need(buf, offset, int(dataLen)); err != nil {
			return 0, err
		}
		offset += int(dataLen)
	}

	lookupCount, n, err := ReadCompactU16(buf, offset)
	if err != nil {
		return 0, err
	}
	offset += n
	for i := uint16(0); i < lookupCount; i++ {
		if err := need(buf, offset, 32); err != nil {
			return 0, err
		}
		offset += 32 // table address

		writableLen, n, err := ReadCompactU16(buf, offset)
		if err != nil {
			return 0, err
		}
		offset += n
		if err := need(buf, offset, int(writableLen)); err != nil {
			return 0, err
		}
		offset += int(writableLen)

		readonlyLen, n, err := ReadCompactU16(buf, offset)
		if err != nil {
			return 0, err
		}
		offset += n
		if err := need(buf, offset, int(readonlyLen)); err != nil {
			return 0, err
		}
		offset += int(readonlyLen)
	}

	return offset, nil
}

// measureLegacyMessage walks a legacy message: 3-byte header, static
// keys, blockhash, compiled instructions. Legacy messages carry no
// lookup-table section.
func measureLegacyMessage(buf []byte, offset int) (int, error) {
	if err := need(buf, offset, 3); err != nil {
		return 0, err
	}
	offset += 3

	keyCount, n, err := ReadCompactU16(buf, offset)
	if err != nil {
		return 0, err
	}
	offset += n
	if err := need(buf, offset, int(keyCount)*32); err != nil {
		return 0, err
	}
	offset += int(keyCount) * 32

	if err := need(buf, offset, 32); err != nil {
		return 0, err
	}
	offset += 32

	instrCount, n, err := ReadCompactU16(buf, offset)
	if err != nil {
		return 0, err
	}
	offset += n
	for i := uint16(0); i < instrCount; i++ {
		if err := need(buf, offset, 1); err != nil {
			return 0, err
		}
		offset++

		acctCount, n, err := ReadCompactU16(buf, offset)
		if err != nil {
			return 0, err
		}
		offset += n
		if err := need(buf, offset, int(acctCount)); err != nil {
			return 0, err
		}
		offset += int(acctCount)

		dataLen, n, err := ReadCompactU16(buf, offset)
		if err != nil {
			return 0, err
		}
		offset += n
		if err := need(buf, offset, int(dataLen)); err != nil {
			return 0, err
		}
		offset += int(dataLen)
	}

	return offset, nil
}
