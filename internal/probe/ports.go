package probe

import (
	"github.com/netpulse/netpulse/internal/models"
)

// Well-known service ports covered by the "common" range.
var commonPorts = []int{
	21, 22, 23, 25, 53, 80, 110, 111, 135, 139,
	143, 443, 445, 587, 993, 995, 1433, 1521, 3306, 3389,
	5432, 5900, 6379, 8080, 8443, 9200, 11211, 27017,
}

var webPorts = []int{80, 443, 8080, 8443, 8000, 8888, 3000, 5000, 9000, 9090}

var databasePorts = []int{3306, 5432, 1433, 1521, 27017, 6379, 11211, 5984, 9200, 7474}

var serviceNames = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	111:   "rpcbind",
	135:   "msrpc",
	139:   "netbios-ssn",
	143:   "imap",
	443:   "https",
	445:   "microsoft-ds",
	587:   "submission",
	993:   "imaps",
	995:   "pop3s",
	1433:  "mssql",
	1521:  "oracle",
	3000:  "http-dev",
	3306:  "mysql",
	3389:  "rdp",
	5000:  "http-alt",
	5432:  "postgresql",
	5900:  "vnc",
	5984:  "couchdb",
	6379:  "redis",
	7474:  "neo4j",
	8000:  "http-alt",
	8080:  "http-proxy",
	8443:  "https-alt",
	8888:  "http-alt",
	9000:  "http-alt",
	9090:  "http-alt",
	9200:  "elasticsearch",
	11211: "memcached",
	27017: "mongodb",
}

// ServiceName returns the conventional service for a port, or "" when
// the port has no entry in the table.
func ServiceName(port int) string {
	return serviceNames[port]
}

// PortsForRange expands a PortRange into the concrete port list.
// custom is only consulted for the custom range and must be non-empty
// there.
func PortsForRange(r models.PortRange, custom []int) ([]int, error) {
	switch r {
	case models.PortRangeCommon:
		return append([]int(nil), commonPorts...), nil
	case models.PortRangeWeb:
		return append([]int(nil), webPorts...), nil
	case models.PortRangeDatabase:
		return append([]int(nil), databasePorts...), nil
	case models.PortRangeAll:
		ports := make([]int, 65535)
		for i := range ports {
			ports[i] = i + 1
		}
		return ports, nil
	case models.PortRangeCustom:
		if len(custom) == 0 {
			return nil, &models.ValidationError{Field: "customPorts", Reason: "required for custom port range"}
		}
		return append([]int(nil), custom...), nil
	}
	return nil, &models.ValidationError{Field: "portRange", Reason: "unknown range " + string(r)}
}
