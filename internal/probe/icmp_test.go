package probe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumVerifiesToAllOnes(t *testing.T) {
	pkt := buildEchoRequest(0x1234, 0x0001, nil)
	require.Len(t, pkt, echoPacketLen)

	assert.EqualValues(t, icmpEchoRequest, pkt[0])
	assert.EqualValues(t, 0, pkt[1])
	assert.EqualValues(t, 0x1234, binary.BigEndian.Uint16(pkt[4:6]))
	assert.EqualValues(t, 0x0001, binary.BigEndian.Uint16(pkt[6:8]))

	// Summing a packet that carries its own checksum must give the
	// all-ones complement value.
	var sum uint32
	for i := 0; i+1 < len(pkt); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(pkt[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	assert.EqualValues(t, 0xffff, sum)
}

func TestChecksumOddLength(t *testing.T) {
	// Odd trailing byte is padded with zero on the right.
	assert.Equal(t, checksum([]byte{0x01, 0x02, 0x03}), checksum([]byte{0x01, 0x02, 0x03, 0x00}))
}

func TestParseEchoReplyWithIPv4Header(t *testing.T) {
	icmpPart := make([]byte, icmpHeaderLen)
	icmpPart[0] = icmpEchoReply
	binary.BigEndian.PutUint16(icmpPart[4:6], 0xbeef)
	binary.BigEndian.PutUint16(icmpPart[6:8], 7)

	hdr := make([]byte, 20)
	hdr[0] = 0x45 // version 4, IHL 5
	hdr[8] = 61   // TTL

	reply, err := parseEchoReply(append(hdr, icmpPart...))
	require.NoError(t, err)
	assert.EqualValues(t, 0xbeef, reply.id)
	assert.EqualValues(t, 7, reply.seq)
	assert.Equal(t, 61, reply.ttl)
}

func TestParseEchoReplyBareICMP(t *testing.T) {
	pkt := make([]byte, icmpHeaderLen)
	pkt[0] = icmpEchoReply
	binary.BigEndian.PutUint16(pkt[4:6], 42)
	binary.BigEndian.PutUint16(pkt[6:8], 1)

	reply, err := parseEchoReply(pkt)
	require.NoError(t, err)
	assert.EqualValues(t, 42, reply.id)
	assert.Equal(t, -1, reply.ttl)
}

func TestParseEchoReplyRejectsWrongType(t *testing.T) {
	pkt := make([]byte, icmpHeaderLen)
	pkt[0] = icmpEchoRequest
	_, err := parseEchoReply(pkt)
	assert.Error(t, err)
}

func TestParseEchoReplyRejectsShort(t *testing.T) {
	_, err := parseEchoReply([]byte{0, 0, 0})
	assert.Error(t, err)
}

func TestResolveIPv4Literal(t *testing.T) {
	ip, err := resolveIPv4("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip.String())
}
