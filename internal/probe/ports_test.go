package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/models"
)

func TestPortsForRange(t *testing.T) {
	web, err := PortsForRange(models.PortRangeWeb, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{80, 443, 8080, 8443, 8000, 8888, 3000, 5000, 9000, 9090}, web)

	db, err := PortsForRange(models.PortRangeDatabase, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3306, 5432, 1433, 1521, 27017, 6379, 11211, 5984, 9200, 7474}, db)

	common, err := PortsForRange(models.PortRangeCommon, nil)
	require.NoError(t, err)
	assert.Contains(t, common, 22)
	assert.Contains(t, common, 443)

	all, err := PortsForRange(models.PortRangeAll, nil)
	require.NoError(t, err)
	require.Len(t, all, 65535)
	assert.Equal(t, 1, all[0])
	assert.Equal(t, 65535, all[len(all)-1])
}

func TestPortsForRangeCustom(t *testing.T) {
	custom, err := PortsForRange(models.PortRangeCustom, []int{8081, 8082})
	require.NoError(t, err)
	assert.Equal(t, []int{8081, 8082}, custom)

	_, err = PortsForRange(models.PortRangeCustom, nil)
	assert.Error(t, err)

	_, err = PortsForRange(models.PortRange("bogus"), nil)
	assert.Error(t, err)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "ssh", ServiceName(22))
	assert.Equal(t, "postgresql", ServiceName(5432))
	assert.Equal(t, "", ServiceName(49152))
}
