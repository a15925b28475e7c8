// Package leb128 implements the variable-length integer encoding the
// WebAssembly binary format uses for every integer field: section sizes,
// counts, indices, and signed immediates (spec.md §4.5/§6). Unsigned and
// signed variants differ only in their continuation/sign-extension rule;
// both are plain byte-accumulator loops, in the spirit of
// `mcgru-funxy/funbit`'s `bitWriter` building a buffer one unit at a time.
package leb128

// AppendUint32 appends x's unsigned LEB128 encoding to buf and returns the
// extended slice. Used for every count, index, and section-size field.
func AppendUint32(buf []byte, x uint32) []byte {
	return appendUint64(buf, uint64(x))
}

// AppendUint64 appends x's unsigned LEB128 encoding to buf.
func AppendUint64(buf []byte, x uint64) []byte {
	return appendUint64(buf, x)
}

func appendUint64(buf []byte, x uint64) []byte {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if x != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		return append(buf, b)
	}
}

// AppendInt32 appends x's signed LEB128 encoding to buf. Used for signed
// immediates (i32.const) and multi-value blocktype indexes; the `0x40`
// empty-blocktype byte is written as a raw byte, not through this function.
func AppendInt32(buf []byte, x int32) []byte {
	return appendInt64(buf, int64(x))
}

// AppendInt64 appends x's signed LEB128 encoding to buf (i64.const).
func AppendInt64(buf []byte, x int64) []byte {
	return appendInt64(buf, x)
}

func appendInt64(buf []byte, x int64) []byte {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		signBitSet := b&0x40 != 0
		if (x == 0 && !signBitSet) || (x == -1 && signBitSet) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// Uvarint32 reads an unsigned LEB128 value from the front of buf, returning
// the decoded value and the number of bytes consumed. Used by tests to
// round-trip the writer's output without depending on wasmbin.
func Uvarint32(buf []byte) (uint32, int) {
	var result uint64
	var shift uint
	for i, b := range buf {
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return uint32(result), i + 1
		}
		shift += 7
	}
	return 0, 0
}

// Varint32 reads a signed LEB128 value from the front of buf, returning the
// decoded value and the number of bytes consumed.
func Varint32(buf []byte) (int32, int) {
	var result int64
	var shift uint
	var b byte
	var i int
	for i = 0; i < len(buf); i++ {
		b = buf[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if i == len(buf) {
		return 0, 0
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return int32(result), i + 1
}
