package machinetest

import (
	"strconv"
	"strings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Register(Suite{
		Name: "system",
		Cases: []CaseDef{
			{Name: "os release", Run: doOSReleaseTest},
			{Name: "clock", Run: doClockTest},
			{Name: "no failed units", Run: doFailedUnitsTest},
		},
	})
}

func doOSReleaseTest(c *Case) {
	out := c.Execute("cat /etc/os-release")
	assert.Contains(c, out, "ID=")
	assert.Contains(c, out, "PRETTY_NAME=")
}

func doClockTest(c *Case) {
	out := strings.TrimSpace(c.Execute("date +%s"))
	epoch, err := strconv.ParseInt(out, 10, 64)
	require.NoError(c, err, "date output was %q", out)
	// sanity floor: 2020-01-01; a machine with a wildly wrong clock breaks
	// certificate validation and journal cursor ordering
	assert.Greater(c, epoch, int64(1577836800))
}

func doFailedUnitsTest(c *Case) {
	out, code := c.ExecuteUnchecked("systemctl list-units --failed --no-legend --plain")
	if code != 0 {
		c.Skip("systemctl is not available on this machine")
	}
	failed := strings.TrimSpace(out)
	assert.Empty(c, failed, "failed systemd units on the target:\n%s", failed)
}
