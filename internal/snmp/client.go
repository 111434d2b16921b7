package snmp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/models"
)

const (
	// walkLimit bounds a walk against agents that loop.
	walkLimit = 1000

	maxDatagram = 65507
)

// v3 msgFlags bits.
const (
	flagAuth       = 0x01
	flagPriv       = 0x02
	flagReportable = 0x04
)

const usmSecurityModel = 3

// Client speaks SNMP over UDP. It is safe for concurrent use; request
// ids are drawn from one atomic counter.
type Client struct {
	requestID atomic.Int32
}

func NewClient() *Client {
	c := &Client{}
	c.requestID.Store(int32(time.Now().UnixNano() & 0x7fff))
	return c
}

// Get issues a GET for the given OIDs. Protocol and transport failures
// are recorded on the result, never returned as an error; errors are
// reserved for invalid input such as a malformed OID.
func (c *Client) Get(ctx context.Context, address string, oids []string, cfg *models.SnmpDeviceConfig) (models.SnmpResult, error) {
	return c.request(ctx, address, oids, cfg, tagGetRequest)
}

// GetNext issues a GET-NEXT for the given OIDs.
func (c *Client) GetNext(ctx context.Context, address string, oids []string, cfg *models.SnmpDeviceConfig) (models.SnmpResult, error) {
	return c.request(ctx, address, oids, cfg, tagGetNextRequest)
}

// Walk repeatedly issues GET-NEXT starting at rootOid and collects
// varbinds until the agent leaves the subtree, reports an exception, or
// the iteration bound is hit.
func (c *Client) Walk(ctx context.Context, address, rootOid string, cfg *models.SnmpDeviceConfig) ([]models.SnmpVarBind, error) {
	var collected []models.SnmpVarBind
	current := rootOid
	for i := 0; i < walkLimit; i++ {
		result, err := c.GetNext(ctx, address, []string{current}, cfg)
		if err != nil {
			return collected, err
		}
		if !result.Success {
			return collected, fmt.Errorf("walk %s: %s", current, result.ErrorMessage)
		}
		if len(result.VarBinds) == 0 {
			return collected, nil
		}
		vb := result.VarBinds[0]
		if !inSubtree(rootOid, vb.OID) {
			return collected, nil
		}
		switch vb.Type {
		case models.SnmpEndOfMibView, models.SnmpNoSuchObject, models.SnmpNoSuchInstance:
			return collected, nil
		}
		collected = append(collected, vb)
		current = vb.OID
	}
	log.Warn().Str("root", rootOid).Int("limit", walkLimit).Msg("snmp walk hit iteration bound")
	return collected, nil
}

// inSubtree reports whether oid equals root or descends from it.
func inSubtree(root, oid string) bool {
	root = strings.TrimPrefix(root, ".")
	oid = strings.TrimPrefix(oid, ".")
	return oid == root || strings.HasPrefix(oid, root+".")
}

func (c *Client) request(ctx context.Context, address string, oids []string, cfg *models.SnmpDeviceConfig, pduTag byte) (models.SnmpResult, error) {
	result := models.SnmpResult{
		HostID:    cfg.HostID,
		Timestamp: time.Now(),
		Version:   cfg.Version,
	}

	reqID := c.requestID.Add(1)
	msg, err := buildMessage(cfg, pduTag, reqID, oids)
	if err != nil {
		return result, err
	}

	port := cfg.Port
	if port == 0 {
		port = 161
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	started := time.Now()
	resp, err := c.exchange(ctx, net.JoinHostPort(address, strconv.Itoa(port)), msg, timeout, cfg.Retries)
	result.ResponseTime = time.Since(started)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}

	if err := parseResponse(resp, cfg.Version, &result); err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
	}
	return result, nil
}

// exchange sends the datagram and waits for a reply, retrying up to
// retries additional times. Only receive timeouts are retried; dial
// failures and cancellation surface immediately.
func (c *Client) exchange(ctx context.Context, addr string, msg []byte, timeout time.Duration, retries int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.exchangeOnce(ctx, addr, msg, timeout)
		if err == nil {
			return resp, nil
		}
		if !retryableExchangeErr(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// retryableExchangeErr reports whether another attempt makes sense: only
// receive timeouts qualify.
func retryableExchangeErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) exchangeOnce(ctx context.Context, addr string, msg []byte, timeout time.Duration) ([]byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(msg); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("timeout waiting for response from %s: %w", addr, err)
		}
		return nil, fmt.Errorf("receive response: %w", err)
	}
	return buf[:n], nil
}

// buildMessage frames a request PDU for the configured version.
func buildMessage(cfg *models.SnmpDeviceConfig, pduTag byte, requestID int32, oids []string) ([]byte, error) {
	pdu, err := buildPDU(pduTag, requestID, oids)
	if err != nil {
		return nil, err
	}
	if cfg.Version == models.SnmpV3 {
		return buildV3Message(cfg, requestID, pdu), nil
	}

	var body []byte
	body = appendInt(body, int64(cfg.Version))
	body = appendString(body, cfg.Credentials.Community)
	body = append(body, pdu...)
	return appendTLV(nil, tagSequence, body), nil
}

func buildPDU(pduTag byte, requestID int32, oids []string) ([]byte, error) {
	var list []byte
	for _, oid := range oids {
		var vb []byte
		vb, err := appendOID(vb, oid)
		if err != nil {
			return nil, err
		}
		vb = appendNull(vb)
		list = appendTLV(list, tagSequence, vb)
	}

	var content []byte
	content = appendInt(content, int64(requestID))
	content = appendInt(content, 0) // errorStatus
	content = appendInt(content, 0) // errorIndex
	content = appendTLV(content, tagSequence, list)
	return appendTLV(nil, pduTag, content), nil
}

// buildV3Message wraps the PDU in the v3 envelope. Security is
// noAuthNoPriv: the auth and priv flag bits follow the requested
// security level but no digest or encryption is applied.
func buildV3Message(cfg *models.SnmpDeviceConfig, msgID int32, pdu []byte) []byte {
	flags := byte(flagReportable)
	switch cfg.Credentials.SecurityLevel {
	case "authNoPriv":
		flags |= flagAuth
	case "authPriv":
		flags |= flagAuth | flagPriv
	}

	var global []byte
	global = appendInt(global, int64(msgID))
	global = appendInt(global, maxDatagram)
	global = appendTLV(global, tagOctetString, []byte{flags})
	global = appendInt(global, usmSecurityModel)

	var usm []byte
	usm = appendString(usm, cfg.Credentials.ContextEngineID)
	usm = appendInt(usm, 0) // engineBoots
	usm = appendInt(usm, 0) // engineTime
	usm = appendString(usm, cfg.Credentials.Username)
	usm = appendString(usm, "") // msgAuthenticationParameters
	usm = appendString(usm, "") // msgPrivacyParameters
	security := appendTLV(nil, tagSequence, usm)

	var scoped []byte
	scoped = appendString(scoped, cfg.Credentials.ContextEngineID)
	scoped = appendString(scoped, cfg.Credentials.ContextName)
	scoped = append(scoped, pdu...)

	var body []byte
	body = appendInt(body, int64(models.SnmpV3))
	body = appendTLV(body, tagSequence, global)
	body = appendTLV(body, tagOctetString, security)
	body = appendTLV(body, tagSequence, scoped)
	return appendTLV(nil, tagSequence, body)
}

// parseResponse decodes a GetResponse into result. The PDU position
// depends on the version: v1/v2c carry it after the community, v3
// inside the scoped PDU.
func parseResponse(data []byte, version models.SnmpVersion, result *models.SnmpResult) error {
	outer := newReader(data)
	body, err := outer.expect(tagSequence)
	if err != nil {
		return fmt.Errorf("message envelope: %w", err)
	}
	r := newReader(body)
	if _, err := r.readInt(); err != nil {
		return fmt.Errorf("version field: %w", err)
	}

	if version == models.SnmpV3 {
		if _, err := r.expect(tagSequence); err != nil {
			return fmt.Errorf("msgGlobalData: %w", err)
		}
		if _, err := r.expect(tagOctetString); err != nil {
			return fmt.Errorf("msgSecurityParameters: %w", err)
		}
		scoped, err := r.expect(tagSequence)
		if err != nil {
			return fmt.Errorf("scopedPDU: %w", err)
		}
		r = newReader(scoped)
		if _, err := r.expect(tagOctetString); err != nil {
			return fmt.Errorf("contextEngineID: %w", err)
		}
		if _, err := r.expect(tagOctetString); err != nil {
			return fmt.Errorf("contextName: %w", err)
		}
	} else {
		if _, err := r.expect(tagOctetString); err != nil {
			return fmt.Errorf("community: %w", err)
		}
	}

	pduContent, err := r.expect(tagGetResponse)
	if err != nil {
		return fmt.Errorf("response PDU: %w", err)
	}
	pdu := newReader(pduContent)
	if _, err := pdu.readInt(); err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	errorStatus, err := pdu.readInt()
	if err != nil {
		return fmt.Errorf("error status: %w", err)
	}
	errorIndex, err := pdu.readInt()
	if err != nil {
		return fmt.Errorf("error index: %w", err)
	}
	result.ErrorStatus = int(errorStatus)
	result.ErrorIndex = int(errorIndex)
	if errorStatus != 0 {
		result.Success = false
		result.ErrorMessage = errorStatusText(int(errorStatus))
		return nil
	}

	listContent, err := pdu.expect(tagSequence)
	if err != nil {
		return fmt.Errorf("varbind list: %w", err)
	}
	list := newReader(listContent)
	for list.remaining() > 0 {
		vbContent, err := list.expect(tagSequence)
		if err != nil {
			return fmt.Errorf("varbind: %w", err)
		}
		vb, err := parseVarBind(newReader(vbContent))
		if err != nil {
			return err
		}
		result.VarBinds = append(result.VarBinds, vb)
	}
	result.Success = true
	return nil
}

func parseVarBind(r *berReader) (models.SnmpVarBind, error) {
	var vb models.SnmpVarBind
	oidContent, err := r.expect(tagOID)
	if err != nil {
		return vb, fmt.Errorf("varbind oid: %w", err)
	}
	vb.OID, err = decodeOID(oidContent)
	if err != nil {
		return vb, fmt.Errorf("varbind oid: %w", err)
	}

	tag, content, err := r.readTLV()
	if err != nil {
		return vb, fmt.Errorf("varbind value: %w", err)
	}

	switch tag {
	case tagInteger:
		v, err := decodeInt(content)
		if err != nil {
			return vb, err
		}
		vb.Type = models.SnmpInteger
		vb.IntValue = &v
		vb.Value = strconv.FormatInt(v, 10)
	case tagOctetString:
		vb.Type = models.SnmpOctetString
		vb.Value = string(content)
	case tagOID:
		oid, err := decodeOID(content)
		if err != nil {
			return vb, err
		}
		vb.Type = models.SnmpObjectIdentifier
		vb.Value = oid
	case tagIPAddress:
		vb.Type = models.SnmpIPAddress
		if len(content) == 4 {
			vb.Value = net.IP(content).String()
		} else {
			vb.Value = hex.EncodeToString(content)
		}
	case tagCounter32, tagGauge32, tagTimeTicks, tagCounter64:
		v, err := decodeUint(content)
		if err != nil {
			return vb, err
		}
		vb.CounterValue = &v
		vb.Value = strconv.FormatUint(v, 10)
		switch tag {
		case tagCounter32:
			vb.Type = models.SnmpCounter32
		case tagGauge32:
			vb.Type = models.SnmpGauge32
		case tagTimeTicks:
			vb.Type = models.SnmpTimeTicks
		case tagCounter64:
			vb.Type = models.SnmpCounter64
		}
	case tagNull:
		vb.Type = models.SnmpNull
	case tagNoSuchObject:
		vb.Type = models.SnmpNoSuchObject
	case tagNoSuchInstance:
		vb.Type = models.SnmpNoSuchInstance
	case tagEndOfMibView:
		vb.Type = models.SnmpEndOfMibView
	default:
		vb.Type = models.SnmpUnknown
		vb.Value = hex.EncodeToString(content)
	}
	return vb, nil
}

// errorStatusText maps PDU error-status codes to readable messages.
func errorStatusText(status int) string {
	switch status {
	case 1:
		return "tooBig: response would not fit in a single message"
	case 2:
		return "noSuchName: requested OID does not exist"
	case 3:
		return "badValue: value has wrong type or length"
	case 4:
		return "readOnly: attempted to set a read-only variable"
	case 5:
		return "genErr: general error"
	case 6:
		return "noAccess: variable is not accessible"
	case 7:
		return "wrongType: value has the wrong type"
	case 13:
		return "resourceUnavailable: agent could not allocate a resource"
	case 16:
		return "authorizationError: access denied"
	}
	return fmt.Sprintf("error status %d", status)
}
