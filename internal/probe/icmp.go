// Package probe implements the active measurement primitives: the raw
// socket ICMP echo prober and the concurrent TCP port scanner.
package probe

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/icmp"

	"github.com/netpulse/netpulse/internal/models"
)

const (
	icmpEchoRequest = 8
	icmpEchoReply   = 0

	// Echo packets are zero padded to this length; the payload carries a
	// monotonic timestamp in the first eight bytes.
	echoPacketLen = 64

	icmpHeaderLen = 8
)

// Process-wide echo identity. The identifier is randomized once so
// concurrent pingers in one process share it; sequence numbers are
// never reused.
var (
	echoID  = uint16(rand.Intn(0xffff) + 1)
	echoSeq atomic.Uint32
)

// buildEchoRequest serializes an echo request with the given identity
// and a correct RFC 1071 checksum. payload may be nil.
func buildEchoRequest(id, seq uint16, payload []byte) []byte {
	pkt := make([]byte, echoPacketLen)
	pkt[0] = icmpEchoRequest
	pkt[1] = 0
	binary.BigEndian.PutUint16(pkt[4:6], id)
	binary.BigEndian.PutUint16(pkt[6:8], seq)
	copy(pkt[icmpHeaderLen:], payload)
	binary.BigEndian.PutUint16(pkt[2:4], checksum(pkt))
	return pkt
}

// checksum computes the RFC 1071 one's complement 16-bit sum over data
// with the checksum field taken as zero, returning the value to place
// in the header. Recomputing over a packet that already carries its
// checksum yields 0xFFFF.
func checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// echoReply is the parsed, identity-checked payload of a reply
// datagram.
type echoReply struct {
	id  uint16
	seq uint16
	ttl int
}

// parseEchoReply validates a received datagram against the echo reply
// shape. Raw sockets on some platforms deliver the IPv4 header with the
// payload; when the first byte carries IP version 4 the header is
// skipped using the length in its low nibble and the TTL is taken from
// byte 8. A non-reply type, short packet, or bad header yields an
// error.
func parseEchoReply(data []byte) (echoReply, error) {
	var r echoReply
	r.ttl = -1
	if len(data) >= 20 && data[0]>>4 == 4 {
		hdrLen := int(data[0]&0x0f) * 4
		if hdrLen < 20 || len(data) < hdrLen+icmpHeaderLen {
			return r, fmt.Errorf("truncated reply: %d bytes", len(data))
		}
		r.ttl = int(data[8])
		data = data[hdrLen:]
	}
	if len(data) < icmpHeaderLen {
		return r, fmt.Errorf("short icmp packet: %d bytes", len(data))
	}
	if data[0] != icmpEchoReply {
		return r, fmt.Errorf("unexpected icmp type %d", data[0])
	}
	r.id = binary.BigEndian.Uint16(data[4:6])
	r.seq = binary.BigEndian.Uint16(data[6:8])
	return r, nil
}

// Pinger sends ICMP echo requests over a raw IPv4 socket. Raw sockets
// need elevated privileges on UNIX-like systems; without them every
// probe fails fast with an explanatory errorMessage.
type Pinger struct{}

func NewPinger() *Pinger { return &Pinger{} }

// Ping probes address once with the given receive timeout. The result
// never carries an error as a Go error; all failures are recorded in
// ErrorMessage with Success false.
func (p *Pinger) Ping(address string, timeout time.Duration) models.PingResult {
	result := models.PingResult{Timestamp: time.Now()}

	dst, err := resolveIPv4(address)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("resolve %s: %v", address, err)
		return result
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("open icmp socket (raw sockets need elevated privileges): %v", err)
		return result
	}
	defer conn.Close()

	seq := uint16(echoSeq.Add(1))
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(monotonicNow()))
	pkt := buildEchoRequest(echoID, seq, payload)

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		result.ErrorMessage = fmt.Sprintf("set receive timeout: %v", err)
		return result
	}

	sent := monotonicNow()
	if _, err := conn.WriteTo(pkt, &net.IPAddr{IP: dst}); err != nil {
		result.ErrorMessage = fmt.Sprintf("send echo request: %v", err)
		return result
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				result.ErrorMessage = "receive timeout"
			} else {
				result.ErrorMessage = fmt.Sprintf("receive echo reply: %v", err)
			}
			return result
		}
		elapsed := monotonicNow() - sent

		reply, perr := parseEchoReply(buf[:n])
		if perr != nil || reply.id != echoID || reply.seq != seq {
			// Reply for another pinger or a stray packet. Keep reading
			// until our reply or the deadline.
			log.Trace().Str("peer", peer.String()).Msg("discarding unmatched icmp packet")
			continue
		}

		result.Success = true
		result.Latency = elapsed
		if reply.ttl >= 0 {
			ttl := reply.ttl
			result.TTL = &ttl
		}
		return result
	}
}

// resolveIPv4 resolves a DNS name to its first IPv4 address; when
// resolution fails the raw input is tried as a literal.
func resolveIPv4(address string) (net.IP, error) {
	addrs, err := net.ResolveIPAddr("ip4", address)
	if err == nil {
		return addrs.IP, nil
	}
	if ip := net.ParseIP(address); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("not an IPv4 address: %s", address)
	}
	return nil, err
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// monotonicNow reads the monotonic clock. time.Since against a fixed
// base uses the monotonic reading embedded in the base.
var monotonicBase = time.Now()

func monotonicNow() time.Duration { return time.Since(monotonicBase) }
