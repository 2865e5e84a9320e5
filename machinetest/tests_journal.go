package machinetest

import (
	"time"

	"github.com/alessio/shellescape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Register(Suite{
		Name: "journal",
		Cases: []CaseDef{
			{Name: "cursor", Run: doJournalCursorTest},
			{Name: "marker roundtrip", Run: doJournalMarkerTest},
		},
	})
}

func doJournalCursorTest(c *Case) {
	cursor, err := c.Machine().JournalCursor()
	require.NoError(c, err)
	assert.NotEmpty(c, cursor)
}

func doJournalMarkerTest(c *Case) {
	cursor, err := c.Machine().JournalCursor()
	require.NoError(c, err)

	const marker = "machtest journal marker probe"
	c.Execute("logger -p user.info -t machtest-probe " + shellescape.Quote(marker))

	// journald flushes asynchronously; poll briefly before giving up
	var msgs []string
	for attempt := 0; attempt < 10; attempt++ {
		msgs, err = c.Machine().JournalMessages([]string{"machtest-probe"}, 6, cursor)
		require.NoError(c, err)
		if len(msgs) > 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	assert.Contains(c, msgs, marker)
}
