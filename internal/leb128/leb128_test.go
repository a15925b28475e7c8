package leb128

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendUint32(t *testing.T) {
	cases := []struct {
		name string
		in   uint32
		want []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"one byte max", 127, []byte{0x7f}},
		{"two bytes", 128, []byte{0x80, 0x01}},
		{"624485", 624485, []byte{0xe5, 0x8e, 0x26}},
		{"max uint32", 0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, AppendUint32(nil, c.in))
		})
	}
}

func TestAppendInt32(t *testing.T) {
	cases := []struct {
		name string
		in   int32
		want []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"positive one byte", 2, []byte{0x02}},
		{"negative one byte", -2, []byte{0x7e}},
		{"-624485", -624485, []byte{0x9b, 0xf1, 0x59}},
		{"624485", 624485, []byte{0xe5, 0x8e, 0x26}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, AppendInt32(nil, c.in))
		})
	}
}

func TestUvarint32_RoundTrips(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 300, 624485, 0xffffffff} {
		buf := AppendUint32(nil, v)
		got, n := Uvarint32(buf)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestVarint32_RoundTrips(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 63, -64, 624485, -624485} {
		buf := AppendInt32(nil, v)
		got, n := Varint32(buf)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestAppendUint32_MultipleValuesConcatenate(t *testing.T) {
	buf := AppendUint32(nil, 1)
	buf = AppendUint32(buf, 624485)
	assert.Equal(t, []byte{0x01, 0xe5, 0x8e, 0x26}, buf)
}
