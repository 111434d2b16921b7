package snmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegerRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 127, 128, 255, 256, 32767, -1, -128, -129, -32768, 1<<40 + 5, -(1<<40 + 5)} {
		buf := appendInt(nil, v)
		r := newReader(buf)
		got, err := r.readInt()
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got, "value %d", v)
		assert.Zero(t, r.remaining())
	}
}

func TestIntegerMinimalEncoding(t *testing.T) {
	// 127 fits one content byte, 128 needs a leading zero.
	assert.Equal(t, []byte{tagInteger, 1, 0x7f}, appendInt(nil, 127))
	assert.Equal(t, []byte{tagInteger, 2, 0x00, 0x80}, appendInt(nil, 128))
	assert.Equal(t, []byte{tagInteger, 1, 0xff}, appendInt(nil, -1))
}

func TestUnsignedRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 256, 1 << 31, 1<<64 - 1} {
		buf := appendUint(nil, tagCounter64, v)
		r := newReader(buf)
		tag, content, err := r.readTLV()
		require.NoError(t, err)
		assert.EqualValues(t, tagCounter64, tag)
		got, err := decodeUint(content)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestLongFormLength(t *testing.T) {
	content := make([]byte, 300)
	buf := appendTLV(nil, tagOctetString, content)

	// 300 needs the long form: 0x82 then two length octets.
	assert.Equal(t, byte(0x82), buf[1])
	assert.Equal(t, byte(0x01), buf[2])
	assert.Equal(t, byte(0x2c), buf[3])

	r := newReader(buf)
	tag, got, err := r.readTLV()
	require.NoError(t, err)
	assert.EqualValues(t, tagOctetString, tag)
	assert.Len(t, got, 300)
}

func TestShortFormLength(t *testing.T) {
	buf := appendString(nil, "public")
	assert.Equal(t, byte(6), buf[1])
}

func TestOIDRoundTrip(t *testing.T) {
	for _, oid := range []string{
		"1.3.6.1.2.1.1.1.0",
		"1.3.6.1.4.1.2021.10.1.3.1",
		"1.3.6.1.2.1.31.1.1.1.6.1000000", // multi-byte sub-identifier
		"0.39",
		"2.100.3",
		"2.200",
		"2.999",
		"2.999.1",
		"2.16303.1.2", // joint-iso-itu-t arc with a big second value
	} {
		buf, err := appendOID(nil, oid)
		require.NoError(t, err, oid)
		r := newReader(buf)
		content, err := r.expect(tagOID)
		require.NoError(t, err, oid)
		got, err := decodeOID(content)
		require.NoError(t, err, oid)
		assert.Equal(t, oid, got)
	}
}

func TestOIDFirstByteEncoding(t *testing.T) {
	buf, err := appendOID(nil, "1.3.6.1")
	require.NoError(t, err)
	// 40*1 + 3 = 43.
	assert.Equal(t, byte(43), buf[2])
}

func TestOIDLargeSecondArcUsesContinuation(t *testing.T) {
	// 40*2 + 999 = 1079 = 0x437, two base-128 octets.
	buf, err := appendOID(nil, "2.999")
	require.NoError(t, err)
	assert.Equal(t, []byte{tagOID, 2, 0x88, 0x37}, buf)

	r := newReader(buf)
	content, err := r.expect(tagOID)
	require.NoError(t, err)
	got, err := decodeOID(content)
	require.NoError(t, err)
	assert.Equal(t, "2.999", got)
}

func TestOIDRejectsBadInput(t *testing.T) {
	for _, oid := range []string{"", "1", "1.x.3", "3.1.2"} {
		_, err := appendOID(nil, oid)
		assert.Error(t, err, oid)
	}
}

func TestReaderRejectsTruncated(t *testing.T) {
	buf := appendString(nil, "community")
	_, _, err := newReader(buf[:3]).readTLV()
	assert.Error(t, err)

	_, _, err = newReader([]byte{tagOctetString}).readTLV()
	assert.Error(t, err)
}

func TestNullEncoding(t *testing.T) {
	assert.Equal(t, []byte{tagNull, 0x00}, appendNull(nil))
}
