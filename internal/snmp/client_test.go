package snmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/models"
)

func v2cConfig() *models.SnmpDeviceConfig {
	return &models.SnmpDeviceConfig{
		HostID:      1,
		Version:     models.SnmpV2c,
		Credentials: models.SnmpCredentials{Community: "public"},
		TimeoutMs:   500,
	}
}

// buildResponse assembles a GetResponse the way an agent would.
func buildResponse(t *testing.T, version models.SnmpVersion, requestID int64, errorStatus int64, varbinds []byte) []byte {
	t.Helper()
	var content []byte
	content = appendInt(content, requestID)
	content = appendInt(content, errorStatus)
	content = appendInt(content, 0)
	content = appendTLV(content, tagSequence, varbinds)
	pdu := appendTLV(nil, tagGetResponse, content)

	var body []byte
	body = appendInt(body, int64(version))
	body = appendString(body, "public")
	body = append(body, pdu...)
	return appendTLV(nil, tagSequence, body)
}

func varbind(t *testing.T, oid string, value []byte) []byte {
	t.Helper()
	vb, err := appendOID(nil, oid)
	require.NoError(t, err)
	vb = append(vb, value...)
	return appendTLV(nil, tagSequence, vb)
}

func TestParseResponseValueTypes(t *testing.T) {
	var list []byte
	list = append(list, varbind(t, "1.3.6.1.2.1.1.3.0", appendUint(nil, tagTimeTicks, 123456))...)
	list = append(list, varbind(t, "1.3.6.1.2.1.1.5.0", appendString(nil, "core-sw1"))...)
	list = append(list, varbind(t, "1.3.6.1.2.1.2.2.1.10.1", appendUint(nil, tagCounter64, 1<<40))...)
	list = append(list, varbind(t, "1.3.6.1.2.1.4.20.1.1.10.0.0.1", appendTLV(nil, tagIPAddress, []byte{10, 0, 0, 1}))...)
	list = append(list, varbind(t, "1.3.6.1.2.1.1.7.0", appendInt(nil, 72))...)

	msg := buildResponse(t, models.SnmpV2c, 5, 0, list)

	var result models.SnmpResult
	require.NoError(t, parseResponse(msg, models.SnmpV2c, &result))
	require.True(t, result.Success)
	require.Len(t, result.VarBinds, 5)

	assert.Equal(t, models.SnmpTimeTicks, result.VarBinds[0].Type)
	assert.Equal(t, "123456", result.VarBinds[0].Value)
	require.NotNil(t, result.VarBinds[0].CounterValue)
	assert.EqualValues(t, 123456, *result.VarBinds[0].CounterValue)

	assert.Equal(t, models.SnmpOctetString, result.VarBinds[1].Type)
	assert.Equal(t, "core-sw1", result.VarBinds[1].Value)

	assert.Equal(t, models.SnmpCounter64, result.VarBinds[2].Type)
	assert.EqualValues(t, uint64(1)<<40, *result.VarBinds[2].CounterValue)

	assert.Equal(t, models.SnmpIPAddress, result.VarBinds[3].Type)
	assert.Equal(t, "10.0.0.1", result.VarBinds[3].Value)

	assert.Equal(t, models.SnmpInteger, result.VarBinds[4].Type)
	require.NotNil(t, result.VarBinds[4].IntValue)
	assert.EqualValues(t, 72, *result.VarBinds[4].IntValue)
}

func TestParseResponseErrorStatus(t *testing.T) {
	msg := buildResponse(t, models.SnmpV2c, 9, 2, nil)

	var result models.SnmpResult
	require.NoError(t, parseResponse(msg, models.SnmpV2c, &result))
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.ErrorStatus)
	assert.Contains(t, result.ErrorMessage, "noSuchName")
	assert.Empty(t, result.VarBinds)
}

func TestParseResponseRejectsWrongPDU(t *testing.T) {
	var content []byte
	content = appendInt(content, 1)
	content = appendInt(content, 0)
	content = appendInt(content, 0)
	content = appendTLV(content, tagSequence, nil)
	pdu := appendTLV(nil, tagGetRequest, content)

	var body []byte
	body = appendInt(body, int64(models.SnmpV2c))
	body = appendString(body, "public")
	body = append(body, pdu...)
	msg := appendTLV(nil, tagSequence, body)

	var result models.SnmpResult
	assert.Error(t, parseResponse(msg, models.SnmpV2c, &result))
}

func TestV3MessageRoundTrip(t *testing.T) {
	cfg := &models.SnmpDeviceConfig{
		Version: models.SnmpV3,
		Credentials: models.SnmpCredentials{
			Username:      "monitor",
			SecurityLevel: "noAuthNoPriv",
		},
	}
	msg, err := buildMessage(cfg, tagGetRequest, 77, []string{"1.3.6.1.2.1.1.1.0"})
	require.NoError(t, err)

	// The envelope opens with SEQUENCE{version=3, ...}.
	r := newReader(msg)
	body, err := r.expect(tagSequence)
	require.NoError(t, err)
	inner := newReader(body)
	version, err := inner.readInt()
	require.NoError(t, err)
	assert.EqualValues(t, 3, version)

	global, err := inner.expect(tagSequence)
	require.NoError(t, err)
	g := newReader(global)
	msgID, err := g.readInt()
	require.NoError(t, err)
	assert.EqualValues(t, 77, msgID)
	_, err = g.readInt() // maxSize
	require.NoError(t, err)
	flags, err := g.expect(tagOctetString)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.EqualValues(t, flagReportable, flags[0])
}

func TestV3MessageAuthFlagBits(t *testing.T) {
	cfg := &models.SnmpDeviceConfig{
		Version: models.SnmpV3,
		Credentials: models.SnmpCredentials{
			Username:      "monitor",
			SecurityLevel: "authPriv",
		},
	}
	msg, err := buildMessage(cfg, tagGetRequest, 1, []string{"1.3.6.1.2.1.1.1.0"})
	require.NoError(t, err)

	// A v3 response with the same framing parses through our decoder;
	// reuse the builder to confirm flags landed as requested.
	r := newReader(msg)
	body, err := r.expect(tagSequence)
	require.NoError(t, err)
	inner := newReader(body)
	_, err = inner.readInt()
	require.NoError(t, err)
	global, err := inner.expect(tagSequence)
	require.NoError(t, err)
	g := newReader(global)
	_, err = g.readInt()
	require.NoError(t, err)
	_, err = g.readInt()
	require.NoError(t, err)
	flags, err := g.expect(tagOctetString)
	require.NoError(t, err)
	assert.EqualValues(t, flagReportable|flagAuth|flagPriv, flags[0])
}

func TestInSubtree(t *testing.T) {
	assert.True(t, inSubtree("1.3.6.1.2.1.2", "1.3.6.1.2.1.2.2.1.10.1"))
	assert.True(t, inSubtree("1.3.6.1.2.1.2", "1.3.6.1.2.1.2"))
	// Sibling with a shared string prefix but different sub-identifier.
	assert.False(t, inSubtree("1.3.6.1.2.1.2", "1.3.6.1.2.1.22"))
	assert.False(t, inSubtree("1.3.6.1.2.1.2", "1.3.6.1.2.1.3"))
}

// fakeAgent answers each UDP datagram with the next canned response.
func fakeAgent(t *testing.T, responses [][]byte) (string, func()) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		buf := make([]byte, maxDatagram)
		for _, resp := range responses {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			_ = n
			if _, err := pc.WriteTo(resp, addr); err != nil {
				return
			}
		}
	}()

	addr := pc.LocalAddr().(*net.UDPAddr)
	return addr.IP.String() + ":" + strconv.Itoa(addr.Port), func() { pc.Close() }
}

func TestWalkStopsAtSubtreeBoundary(t *testing.T) {
	root := "1.3.6.1.2.1.1"
	responses := [][]byte{
		buildResponse(t, models.SnmpV2c, 0, 0,
			varbind(t, "1.3.6.1.2.1.1.1.0", appendString(nil, "first"))),
		buildResponse(t, models.SnmpV2c, 0, 0,
			varbind(t, "1.3.6.1.2.1.1.2.0", appendString(nil, "second"))),
		buildResponse(t, models.SnmpV2c, 0, 0,
			varbind(t, "1.3.6.1.2.1.2.1.0", appendString(nil, "outside"))),
	}
	hostPort, stop := fakeAgent(t, responses)
	defer stop()

	host, portStr, err := net.SplitHostPort(hostPort)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := v2cConfig()
	cfg.Port = port

	client := NewClient()
	vbs, err := client.Walk(context.Background(), host, root, cfg)
	require.NoError(t, err)
	require.Len(t, vbs, 2)
	assert.Equal(t, "1.3.6.1.2.1.1.1.0", vbs[0].OID)
	assert.Equal(t, "first", vbs[0].Value)
	assert.Equal(t, "1.3.6.1.2.1.1.2.0", vbs[1].OID)
}

func TestWalkStopsOnEndOfMibView(t *testing.T) {
	root := "1.3.6.1.2.1.1"
	responses := [][]byte{
		buildResponse(t, models.SnmpV2c, 0, 0,
			varbind(t, "1.3.6.1.2.1.1.1.0", appendString(nil, "only"))),
		buildResponse(t, models.SnmpV2c, 0, 0,
			varbind(t, "1.3.6.1.2.1.1.2.0", appendTLV(nil, tagEndOfMibView, nil))),
	}
	hostPort, stop := fakeAgent(t, responses)
	defer stop()

	host, portStr, err := net.SplitHostPort(hostPort)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := v2cConfig()
	cfg.Port = port

	client := NewClient()
	vbs, err := client.Walk(context.Background(), host, root, cfg)
	require.NoError(t, err)
	require.Len(t, vbs, 1)
	assert.Equal(t, "only", vbs[0].Value)
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestRetryableExchangeErr(t *testing.T) {
	assert.True(t, retryableExchangeErr(timeoutNetError{}))
	assert.True(t, retryableExchangeErr(fmt.Errorf("timeout waiting for response: %w", timeoutNetError{})))

	assert.False(t, retryableExchangeErr(errors.New("dial udp: network unreachable")))
	assert.False(t, retryableExchangeErr(fmt.Errorf("receive response: %w", errors.New("connection refused"))))
	assert.False(t, retryableExchangeErr(context.Canceled))
}

func TestTimeoutRetriesHitTheAgentAgain(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	addr := pc.LocalAddr().(*net.UDPAddr)

	var received atomic.Int32
	go func() {
		buf := make([]byte, maxDatagram)
		for {
			if _, _, err := pc.ReadFrom(buf); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	cfg := v2cConfig()
	cfg.Port = addr.Port
	cfg.TimeoutMs = 100
	cfg.Retries = 2

	client := NewClient()
	result, err := client.Get(context.Background(), addr.IP.String(), []string{"1.3.6.1.2.1.1.1.0"}, cfg)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.EqualValues(t, 3, received.Load())
}

func TestGetTimesOutAgainstSilentAgent(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	addr := pc.LocalAddr().(*net.UDPAddr)

	cfg := v2cConfig()
	cfg.Port = addr.Port
	cfg.TimeoutMs = 100

	client := NewClient()
	start := time.Now()
	result, err := client.Get(context.Background(), addr.IP.String(), []string{"1.3.6.1.2.1.1.1.0"}, cfg)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}
