// Package snmp implements SNMPv1/v2c messaging and an SNMPv3
// noAuthNoPriv frame on top of a self-contained BER codec, plus a poll
// monitor that drives recurring GETs against configured devices.
package snmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Universal and application tags used on the SNMP wire.
const (
	tagInteger     = 0x02
	tagOctetString = 0x04
	tagNull        = 0x05
	tagOID         = 0x06
	tagSequence    = 0x30

	tagIPAddress = 0x40
	tagCounter32 = 0x41
	tagGauge32   = 0x42
	tagTimeTicks = 0x43
	tagCounter64 = 0x46

	tagGetRequest     = 0xA0
	tagGetNextRequest = 0xA1
	tagGetResponse    = 0xA2

	tagNoSuchObject   = 0x80
	tagNoSuchInstance = 0x81
	tagEndOfMibView   = 0x82
)

var errTruncated = errors.New("truncated BER element")

// appendLength writes the definite length: short form below 128, long
// form (count octet then big-endian length) otherwise.
func appendLength(dst []byte, n int) []byte {
	if n < 0x80 {
		return append(dst, byte(n))
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(n))
	i := 0
	for i < 7 && tmp[i] == 0 {
		i++
	}
	dst = append(dst, byte(0x80|(8-i)))
	return append(dst, tmp[i:]...)
}

// appendTLV writes one tag-length-value element.
func appendTLV(dst []byte, tag byte, content []byte) []byte {
	dst = append(dst, tag)
	dst = appendLength(dst, len(content))
	return append(dst, content...)
}

// appendInt encodes a signed INTEGER in the minimal two's complement
// form.
func appendInt(dst []byte, v int64) []byte {
	return appendTaggedInt(dst, tagInteger, v)
}

func appendTaggedInt(dst []byte, tag byte, v int64) []byte {
	var content []byte
	switch {
	case v == 0:
		content = []byte{0}
	case v > 0:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v))
		i := 0
		for i < 7 && tmp[i] == 0 {
			i++
		}
		content = tmp[i:]
		if content[0]&0x80 != 0 {
			content = append([]byte{0}, content...)
		}
	default:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v))
		i := 0
		for i < 7 && tmp[i] == 0xff && tmp[i+1]&0x80 != 0 {
			i++
		}
		content = tmp[i:]
	}
	return appendTLV(dst, tag, content)
}

// appendUint encodes an unsigned value under an application tag
// (Counter32, Gauge32, TimeTicks, Counter64).
func appendUint(dst []byte, tag byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	i := 0
	for i < 7 && tmp[i] == 0 {
		i++
	}
	content := tmp[i:]
	if content[0]&0x80 != 0 {
		content = append([]byte{0}, content...)
	}
	return appendTLV(dst, tag, content)
}

func appendString(dst []byte, s string) []byte {
	return appendTLV(dst, tagOctetString, []byte(s))
}

func appendNull(dst []byte) []byte {
	return append(dst, tagNull, 0x00)
}

// appendOID encodes a dotted OID. The first two sub-identifiers pack
// into the single value 40*a+b; every value, that one included, uses
// base-128 with the high bit marking continuation, so second arcs past
// 215 under arc 2 survive the trip.
func appendOID(dst []byte, oid string) ([]byte, error) {
	subs, err := parseOID(oid)
	if err != nil {
		return dst, err
	}
	var content []byte
	content = appendBase128(content, subs[0]*40+subs[1])
	for _, sub := range subs[2:] {
		content = appendBase128(content, sub)
	}
	return appendTLV(dst, tagOID, content), nil
}

func appendBase128(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, 0)
	}
	var tmp [10]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte(v & 0x7f)
		v >>= 7
	}
	for j := i; j < len(tmp)-1; j++ {
		tmp[j] |= 0x80
	}
	return append(dst, tmp[i:]...)
}

func parseOID(oid string) ([]uint64, error) {
	parts := strings.Split(strings.TrimPrefix(oid, "."), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("oid %q needs at least two sub-identifiers", oid)
	}
	subs := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("oid %q: bad sub-identifier %q", oid, p)
		}
		subs[i] = v
	}
	if subs[0] > 2 || (subs[0] < 2 && subs[1] > 39) {
		return nil, fmt.Errorf("oid %q: first two sub-identifiers out of range", oid)
	}
	return subs, nil
}

// berReader walks a BER byte stream.
type berReader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *berReader { return &berReader{buf: buf} }

func (r *berReader) remaining() int { return len(r.buf) - r.pos }

// readTLV consumes one element, returning its tag and content bytes.
func (r *berReader) readTLV() (byte, []byte, error) {
	if r.remaining() < 2 {
		return 0, nil, errTruncated
	}
	tag := r.buf[r.pos]
	r.pos++
	length, err := r.readLength()
	if err != nil {
		return 0, nil, err
	}
	if r.remaining() < length {
		return 0, nil, errTruncated
	}
	content := r.buf[r.pos : r.pos+length]
	r.pos += length
	return tag, content, nil
}

// peekTag returns the next element's tag without consuming it.
func (r *berReader) peekTag() (byte, error) {
	if r.remaining() < 1 {
		return 0, errTruncated
	}
	return r.buf[r.pos], nil
}

func (r *berReader) readLength() (int, error) {
	if r.remaining() < 1 {
		return 0, errTruncated
	}
	first := r.buf[r.pos]
	r.pos++
	if first < 0x80 {
		return int(first), nil
	}
	count := int(first & 0x7f)
	if count == 0 || count > 8 || r.remaining() < count {
		return 0, fmt.Errorf("bad long form length (count %d)", count)
	}
	var n uint64
	for i := 0; i < count; i++ {
		n = n<<8 | uint64(r.buf[r.pos])
		r.pos++
	}
	if n > uint64(r.remaining()) {
		return 0, errTruncated
	}
	return int(n), nil
}

// expect consumes one element and checks its tag.
func (r *berReader) expect(tag byte) ([]byte, error) {
	got, content, err := r.readTLV()
	if err != nil {
		return nil, err
	}
	if got != tag {
		return nil, fmt.Errorf("expected tag 0x%02X, got 0x%02X", tag, got)
	}
	return content, nil
}

func (r *berReader) readInt() (int64, error) {
	content, err := r.expect(tagInteger)
	if err != nil {
		return 0, err
	}
	return decodeInt(content)
}

func decodeInt(content []byte) (int64, error) {
	if len(content) == 0 || len(content) > 8 {
		return 0, fmt.Errorf("integer of %d bytes", len(content))
	}
	v := int64(0)
	if content[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range content {
		v = v<<8 | int64(b)
	}
	return v, nil
}

func decodeUint(content []byte) (uint64, error) {
	if len(content) == 0 || len(content) > 9 {
		return 0, fmt.Errorf("unsigned of %d bytes", len(content))
	}
	if len(content) == 9 {
		if content[0] != 0 {
			return 0, errors.New("unsigned overflows 64 bits")
		}
		content = content[1:]
	}
	var v uint64
	for _, b := range content {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// decodeOID renders OID content bytes in dotted form. The first decoded
// value is the combined 40*a+b, itself base-128 like every other
// sub-identifier.
func decodeOID(content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("empty oid")
	}
	var subs []uint64
	var cur uint64
	pending := false
	for _, b := range content {
		cur = cur<<7 | uint64(b&0x7f)
		pending = true
		if b&0x80 == 0 {
			subs = append(subs, cur)
			cur = 0
			pending = false
		}
	}
	if pending {
		return "", errors.New("oid ends mid sub-identifier")
	}
	a := subs[0] / 40
	if a > 2 {
		a = 2
	}
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(a, 10))
	sb.WriteByte('.')
	sb.WriteString(strconv.FormatUint(subs[0]-a*40, 10))
	for _, sub := range subs[1:] {
		sb.WriteByte('.')
		sb.WriteString(strconv.FormatUint(sub, 10))
	}
	return sb.String(), nil
}
