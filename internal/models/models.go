// Package models defines the core data types shared by the storage,
// probe, alerting and API layers.
package models

import (
	"time"
)

// HostStatus is the availability state of a monitored host. It is owned
// by the alert engine; other components treat it as read-only.
type HostStatus string

const (
	HostStatusUnknown HostStatus = "unknown"
	HostStatusUp      HostStatus = "up"
	HostStatusWarning HostStatus = "warning"
	HostStatusDown    HostStatus = "down"
)

// Host is a monitored target.
type Host struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Address             string `json:"address"` // IPv4 literal or DNS name, unique
	PingIntervalSeconds int    `json:"pingIntervalSeconds"`
	// WarningThresholdMs and CriticalThresholdMs are stored and served
	// over the wire for display; the alert engine evaluates the global
	// AlertThresholds instead.
	WarningThresholdMs  int        `json:"warningThresholdMs"`
	CriticalThresholdMs int        `json:"criticalThresholdMs"`
	Status              HostStatus `json:"status"`
	Enabled             bool       `json:"enabled"`
	GroupID             *int64     `json:"groupId"`
	CreatedAt           time.Time  `json:"-"`
	LastChecked         *time.Time `json:"-"`
}

// Validate reports the first invariant violation on the host.
func (h *Host) Validate() error {
	switch {
	case h.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case h.Address == "":
		return &ValidationError{Field: "address", Reason: "must not be empty"}
	case h.PingIntervalSeconds < 1:
		return &ValidationError{Field: "pingIntervalSeconds", Reason: "must be >= 1"}
	case h.WarningThresholdMs < 0:
		return &ValidationError{Field: "warningThresholdMs", Reason: "must not be negative"}
	case h.CriticalThresholdMs < 0:
		return &ValidationError{Field: "criticalThresholdMs", Reason: "must not be negative"}
	}
	return nil
}

// ValidationError describes rejected user input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// HostGroup is an optional hierarchical tag for hosts. The parent graph
// forms a forest; deleting a group nulls out references rather than
// cascading.
type HostGroup struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ParentID    *int64    `json:"parentId"`
	CreatedAt   time.Time `json:"-"`
}

// PingResult is a single ICMP probe outcome. Immutable once written.
type PingResult struct {
	ID           int64         `json:"id"`
	HostID       int64         `json:"hostId"`
	Timestamp    time.Time     `json:"timestamp"`
	Latency      time.Duration `json:"-"` // zero when Success is false
	Success      bool          `json:"success"`
	TTL          *int          `json:"ttl"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// LatencyMicros returns the round-trip time in integer microseconds,
// the unit the latency column persists.
func (r *PingResult) LatencyMicros() int64 { return r.Latency.Microseconds() }

// PingStatistics is derived over the most recent N samples of a host.
// It is computed, never stored.
type PingStatistics struct {
	TotalPings        int           `json:"totalPings"`
	SuccessfulPings   int           `json:"successfulPings"`
	MinLatency        time.Duration `json:"-"`
	MaxLatency        time.Duration `json:"-"`
	AvgLatency        time.Duration `json:"-"`
	Jitter            time.Duration `json:"-"` // mean absolute deviation from AvgLatency
	PacketLossPercent float64       `json:"packetLossPercent"`
}

// AlertType identifies what condition produced an alert.
type AlertType string

const (
	AlertHostDown      AlertType = "host_down"
	AlertHighLatency   AlertType = "high_latency"
	AlertPacketLoss    AlertType = "packet_loss"
	AlertHostRecovered AlertType = "host_recovered"
	AlertScanComplete  AlertType = "scan_complete"
)

// AlertSeverity orders alerts by urgency.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert records a threshold crossing or host state transition.
type Alert struct {
	ID           int64         `json:"id"`
	HostID       int64         `json:"hostId"`
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	Timestamp    time.Time     `json:"timestamp"`
	Acknowledged bool          `json:"acknowledged"`
}

// AlertFilter narrows alert queries. A nil field means "any"; an empty
// filter matches everything. Non-empty filters apply as a conjunction,
// with SearchText matching title or message case-insensitively.
type AlertFilter struct {
	Severity     *AlertSeverity
	Type         *AlertType
	Acknowledged *bool
	SearchText   string
}

// Empty reports whether the filter constrains nothing.
func (f AlertFilter) Empty() bool {
	return f.Severity == nil && f.Type == nil && f.Acknowledged == nil && f.SearchText == ""
}

// AlertThresholds is the global alerting configuration applied to every
// host.
type AlertThresholds struct {
	LatencyWarningMs           int     `json:"latencyWarningMs"`
	LatencyCriticalMs          int     `json:"latencyCriticalMs"`
	PacketLossWarningPercent   float64 `json:"packetLossWarningPercent"`
	PacketLossCriticalPercent  float64 `json:"packetLossCriticalPercent"`
	ConsecutiveFailuresForDown int     `json:"consecutiveFailuresForDown"`
}

// PortState classifies a scanned TCP port.
type PortState string

const (
	PortUnknown  PortState = "unknown"
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered" // no accept and no refusal within the timeout
)

// PortScanResult is one port's outcome from one scan run. Immutable.
type PortScanResult struct {
	ID            int64     `json:"id"`
	TargetAddress string    `json:"targetAddress"`
	Port          int       `json:"port"`
	State         PortState `json:"state"`
	ServiceName   string    `json:"serviceName"`
	ScanTimestamp time.Time `json:"scanTimestamp"`
}

// PortRange selects which ports a scan covers.
type PortRange string

const (
	PortRangeCommon   PortRange = "common"
	PortRangeWeb      PortRange = "web"
	PortRangeDatabase PortRange = "database"
	PortRangeAll      PortRange = "all"
	PortRangeCustom   PortRange = "custom"
)

// ScheduledScanConfig describes a recurring port scan of one target.
type ScheduledScanConfig struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	TargetAddress   string     `json:"targetAddress"`
	PortRange       PortRange  `json:"portRange"`
	CustomPorts     []int      `json:"customPorts"` // required non-empty iff PortRange == custom
	IntervalMinutes int        `json:"intervalMinutes"`
	Enabled         bool       `json:"enabled"`
	NotifyOnChanges bool       `json:"notifyOnChanges"`
	CreatedAt       time.Time  `json:"-"`
	LastRunAt       *time.Time `json:"-"`
	NextRunAt       *time.Time `json:"-"`
}

// Validate checks the schedule invariants.
func (c *ScheduledScanConfig) Validate() error {
	switch {
	case c.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case c.TargetAddress == "":
		return &ValidationError{Field: "targetAddress", Reason: "must not be empty"}
	case c.IntervalMinutes < 1:
		return &ValidationError{Field: "intervalMinutes", Reason: "must be >= 1"}
	case c.PortRange == PortRangeCustom && len(c.CustomPorts) == 0:
		return &ValidationError{Field: "customPorts", Reason: "required for custom port range"}
	}
	return nil
}

// PortChangeType classifies one entry of a scan diff.
type PortChangeType string

const (
	ChangeNewOpen      PortChangeType = "new_open"
	ChangeNewClosed    PortChangeType = "new_closed"
	ChangeStateChanged PortChangeType = "state_changed"
)

// PortChange is a single port whose state differs between two scans.
type PortChange struct {
	Port          int            `json:"port"`
	ChangeType    PortChangeType `json:"changeType"`
	PreviousState PortState      `json:"previousState"`
	CurrentState  PortState      `json:"currentState"`
	ServiceName   string         `json:"serviceName"`
}

// PortScanDiff is the set of state changes between two consecutive scans
// of the same target.
type PortScanDiff struct {
	ID                int64        `json:"id"`
	TargetAddress     string       `json:"targetAddress"`
	PreviousScanTime  time.Time    `json:"previousScanTime"`
	CurrentScanTime   time.Time    `json:"currentScanTime"`
	Changes           []PortChange `json:"changes"`
	TotalPortsScanned int          `json:"totalPortsScanned"`
	OpenPortsBefore   int          `json:"openPortsBefore"`
	OpenPortsAfter    int          `json:"openPortsAfter"`
}

// SnmpVersion selects the SNMP wire protocol revision.
type SnmpVersion int

const (
	SnmpV1  SnmpVersion = 0
	SnmpV2c SnmpVersion = 1
	SnmpV3  SnmpVersion = 3
)

func (v SnmpVersion) String() string {
	switch v {
	case SnmpV1:
		return "v1"
	case SnmpV2c:
		return "v2c"
	case SnmpV3:
		return "v3"
	}
	return "unknown"
}

// SnmpCredentials is a tagged union: exactly one of V2c or V3 is set,
// selected by Version on the owning config. V1 shares the community
// field with V2c.
type SnmpCredentials struct {
	Community string `json:"community,omitempty"`

	Username        string `json:"username,omitempty"`
	SecurityLevel   string `json:"securityLevel,omitempty"` // noAuthNoPriv, authNoPriv, authPriv
	AuthProtocol    string `json:"authProtocol,omitempty"`
	AuthPassword    string `json:"authPassword,omitempty"`
	PrivProtocol    string `json:"privProtocol,omitempty"`
	PrivPassword    string `json:"privPassword,omitempty"`
	ContextName     string `json:"contextName,omitempty"`
	ContextEngineID string `json:"contextEngineId,omitempty"`
}

// SnmpDeviceConfig attaches SNMP polling to a host. HostID is unique.
type SnmpDeviceConfig struct {
	ID                  int64           `json:"id"`
	HostID              int64           `json:"hostId"`
	Version             SnmpVersion     `json:"version"`
	Credentials         SnmpCredentials `json:"credentials"`
	Port                int             `json:"port"` // default 161
	TimeoutMs           int             `json:"timeoutMs"`
	Retries             int             `json:"retries"`
	PollIntervalSeconds int             `json:"pollIntervalSeconds"`
	OIDs                []string        `json:"oids"`
	Enabled             bool            `json:"enabled"`
	CreatedAt           time.Time       `json:"-"`
	LastPolled          *time.Time      `json:"-"`
}

// SnmpValueType tags a decoded varbind value.
type SnmpValueType string

const (
	SnmpInteger          SnmpValueType = "integer"
	SnmpOctetString      SnmpValueType = "octet_string"
	SnmpObjectIdentifier SnmpValueType = "object_identifier"
	SnmpIPAddress        SnmpValueType = "ip_address"
	SnmpCounter32        SnmpValueType = "counter32"
	SnmpGauge32          SnmpValueType = "gauge32"
	SnmpTimeTicks        SnmpValueType = "time_ticks"
	SnmpCounter64        SnmpValueType = "counter64"
	SnmpNull             SnmpValueType = "null"
	SnmpNoSuchObject     SnmpValueType = "no_such_object"
	SnmpNoSuchInstance   SnmpValueType = "no_such_instance"
	SnmpEndOfMibView     SnmpValueType = "end_of_mib_view"
	SnmpUnknown          SnmpValueType = "unknown"
)

// SnmpVarBind is one OID/value pair from an SNMP response.
type SnmpVarBind struct {
	OID          string        `json:"oid"`
	Type         SnmpValueType `json:"type"`
	Value        string        `json:"value"` // string rendering of the value
	IntValue     *int64        `json:"intValue,omitempty"`
	CounterValue *uint64       `json:"counterValue,omitempty"`
}

// SnmpResult is the outcome of one SNMP request.
type SnmpResult struct {
	ID           int64         `json:"id"`
	HostID       int64         `json:"hostId"`
	Timestamp    time.Time     `json:"timestamp"`
	Version      SnmpVersion   `json:"version"`
	VarBinds     []SnmpVarBind `json:"varbinds"`
	ResponseTime time.Duration `json:"-"` // persisted as integer microseconds
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	ErrorStatus  int           `json:"errorStatus"`
	ErrorIndex   int           `json:"errorIndex"`
}
