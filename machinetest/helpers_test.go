package machinetest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machtest/machine"
)

// existsFake answers the "test -e" probe positively so the restore helpers
// take the snapshot branch.
type existsFake struct {
	*fakeMachine
}

func (f *existsFake) ExecuteUnchecked(command string) (string, int, error) {
	if strings.HasPrefix(command, "if test -e") {
		f.commands = append(f.commands, command)
		return "yes\n", 0, nil
	}
	return f.fakeMachine.ExecuteUnchecked(command)
}

func (f *existsFake) Execute(command string) (string, error) {
	out, _, err := f.ExecuteUnchecked(command)
	return out, err
}

func runOneCaseOn(t *testing.T, m machine.Machine, body CaseFunc) []string {
	t.Helper()
	cfg := Config{
		ResultsDir: t.TempDir(),
		Dialer: func(machine.Target, machine.Options) (machine.Machine, error) {
			return m, nil
		},
	}
	suites := []Suite{{Name: "suite", Cases: []CaseDef{{Name: "case", Run: body}}}}
	results := RunSuites(cfg, suites, nil, nil)
	require.True(t, results.OK())
	return nil
}

func TestWriteFileRemovesFileDuringCleanup(t *testing.T) {
	fake := newFakeMachine()
	runOneCase(t, fake, Config{}, func(c *Case) {
		c.WriteFile("/etc/app.conf", "key=value\n")
	})
	assert.Equal(t, "key=value\n", fake.writes["/etc/app.conf"])
	assert.NotEmpty(t, findCommands(fake, "rm -f /etc/app.conf"))
}

func TestRestoreFileOfMissingFileRemovesItDuringCleanup(t *testing.T) {
	// the default fake answers the existence probe with empty output,
	// meaning the file did not exist before the test
	fake := newFakeMachine()
	results := runOneCase(t, fake, Config{}, func(c *Case) {
		c.RestoreFile("/etc/new-file")
	})
	require.True(t, results.OK())
	assert.NotEmpty(t, findCommands(fake, "rm -rf /etc/new-file"))
}

func TestRestoreFileOfExistingFileUsesBackup(t *testing.T) {
	fake := &existsFake{newFakeMachine()}
	runOneCaseOn(t, fake, func(c *Case) {
		c.RestoreFile("/etc/app.conf")
	})

	snapshots := findCommands(fake.fakeMachine, "mkdir -p /var/lib/machtest && cp -a /etc/app.conf")
	require.Len(t, snapshots, 1)
	assert.Contains(t, snapshots[0], "/var/lib/machtest/_etc_app.conf")

	restores := findCommands(fake.fakeMachine, "mv /var/lib/machtest/_etc_app.conf /etc/app.conf")
	assert.Len(t, restores, 1)
}

func TestSedFileKeepsBackupAndRestoresIt(t *testing.T) {
	fake := newFakeMachine()
	runOneCase(t, fake, Config{}, func(c *Case) {
		c.SedFile("/etc/app.conf", "foo", "bar")
	})
	seds := findCommands(fake, "sed -E -i.machtest")
	require.Len(t, seds, 1)
	assert.Contains(t, seds[0], "'s/foo/bar/g' /etc/app.conf")
	assert.NotEmpty(t, findCommands(fake, "mv /etc/app.conf.machtest /etc/app.conf"))
}

func TestRestoreDirOfExistingDirReplacesWholesale(t *testing.T) {
	fake := &existsFake{newFakeMachine()}
	runOneCaseOn(t, fake, func(c *Case) {
		c.RestoreDir("/etc/app.d")
	})

	assert.NotEmpty(t, findCommands(fake.fakeMachine, "mkdir -p /var/lib/machtest && cp -a /etc/app.d/"))
	assert.NotEmpty(t, findCommands(fake.fakeMachine, "rm -rf /etc/app.d && mv /var/lib/machtest/_etc_app.d /etc/app.d"))
}

func TestRestoreRunsBeforeBackupDirTeardown(t *testing.T) {
	fake := &existsFake{newFakeMachine()}
	runOneCaseOn(t, fake, func(c *Case) {
		c.RestoreFile("/etc/app.conf")
	})

	restoreIdx, teardownIdx := -1, -1
	for i, cmd := range fake.fakeMachine.commands {
		if strings.HasPrefix(cmd, "mv /var/lib/machtest/_etc_app.conf") {
			restoreIdx = i
		}
		if strings.Contains(cmd, "findmnt") {
			teardownIdx = i
		}
	}
	require.GreaterOrEqual(t, restoreIdx, 0)
	require.GreaterOrEqual(t, teardownIdx, 0)
	assert.Less(t, restoreIdx, teardownIdx, "the file restore must run before the backup dir is removed")
}
