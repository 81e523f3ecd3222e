// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package linear

import "github.com/Bit-Atto/txsc/errors"

// MaxNumLen is the maximum number of bytes a pushed value may have
// and still be treated as an integer literal by the compiler.
const MaxNumLen = 4

var (
	ErrNumTooBig     = errors.New("script number too big")
	ErrNumNotMinimal = errors.New("script number not minimally encoded")
)

// Num is an integer as the script machine sees it.
//
// All numbers are stored on the data and alternate stacks encoded as little
// endian with a sign bit.  Arithmetic opcodes only accept 4-byte operands,
// which is why MaxNumLen bounds what the compiler folds into literals.
type Num int64

// Bytes returns the number serialized as a little endian with a sign bit.
//
// Example encodings:
//
//	  127 -> [0x7f]
//	 -127 -> [0xff]
//	  128 -> [0x80 0x00]
//	 -128 -> [0x80 0x80]
//	  256 -> [0x00 0x01]
//	32768 -> [0x00 0x80 0x00]
func (n Num) Bytes() []byte {
	// Zero encodes as an empty byte slice.
	if n == 0 {
		return nil
	}

	isNegative := n < 0
	if isNegative {
		n = -n
	}

	result := make([]byte, 0, 9)
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	// When the most significant byte already has the high bit set, an
	// additional high byte is required to carry the sign.
	if result[len(result)-1]&0x80 != 0 {
		extraByte := byte(0x00)
		if isNegative {
			extraByte = 0x80
		}
		result = append(result, extraByte)
	} else if isNegative {
		result[len(result)-1] |= 0x80
	}

	return result
}

// IsMinimal reports whether v is the shortest encoding of its value.
// The negative-zero encoding, [0x80], is not minimal.
func IsMinimal(v []byte) bool {
	if len(v) == 0 {
		return true
	}
	// If the most-significant-byte - excluding the sign bit - is zero
	// then we're not minimal, unless the second-most-significant byte
	// needs the extra byte for its high bit.
	if v[len(v)-1]&0x7f == 0 {
		if len(v) == 1 || v[len(v)-2]&0x80 == 0 {
			return false
		}
	}
	return true
}

// ParseNum interprets v as an encoded integer of at most maxLen bytes.
// With requireMinimal set, non-minimal encodings are rejected.
func ParseNum(v []byte, requireMinimal bool, maxLen int) (Num, error) {
	if len(v) > maxLen {
		return 0, errors.WithDetailf(ErrNumTooBig, "%d bytes, limit %d", len(v), maxLen)
	}
	if requireMinimal && !IsMinimal(v) {
		return 0, errors.WithDetailf(ErrNumNotMinimal, "%x", v)
	}

	// Zero is encoded as an empty byte slice.
	if len(v) == 0 {
		return 0, nil
	}

	// Decode from little endian.
	var result int64
	for i, val := range v {
		result |= int64(val) << uint8(8*i)
	}

	// When the most significant byte of the input bytes has the sign bit
	// set, the result is negative.
	if v[len(v)-1]&0x80 != 0 {
		result &= ^(int64(0x80) << uint8(8*(len(v)-1)))
		return Num(-result), nil
	}

	return Num(result), nil
}
