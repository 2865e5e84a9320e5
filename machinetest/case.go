// Package machinetest builds the per-test lifecycle for exercising a remote
// machine: each case acquires a session, runs its body with helper operations
// for remote interaction, then unconditionally runs registered cleanup
// actions in reverse order and machine health checks (journal scan, core-dump
// scan) before releasing the session.
package machinetest

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"

	"machtest/framework"
	"machtest/machine"
)

// vmTmpDir holds per-test backups on the target. It is torn down by a cleanup
// registered during setup, which runs after all later-registered restores.
const vmTmpDir = "/var/lib/machtest"

// Case wraps a framework.Context and a live machine session. It implements
// require.TestingT, so testify assertions can be used directly against it.
// State on the machine persists across tests; anything a test changes must be
// registered for reversal rather than left for a reboot that never comes.
type Case struct {
	t   *framework.Context
	m   machine.Machine
	cfg *Config

	journalCursor   string
	allowedMessages []string
	allowCoreDumps  bool
}

func newCase(t *framework.Context, m machine.Machine, cfg *Config) *Case {
	allowed := append([]string(nil), defaultAllowedMessages...)
	allowed = append(allowed, cfg.AllowedJournalMessages...)
	return &Case{t: t, m: m, cfg: cfg, allowedMessages: allowed}
}

// setUp records the journal position and marks the test boundaries in the
// target's journal, then registers the base cleanups. Failures here abort the
// case with an errored (not failed) outcome: the test body never ran.
func (c *Case) setUp() {
	cursor, err := c.m.JournalCursor()
	if err != nil {
		c.t.AbortWithError(err)
	}
	c.journalCursor = cursor

	name := c.t.ID().String()
	if _, err := c.m.Execute("logger -p user.info " + shellescape.Quote("MACHTEST: start "+name)); err != nil {
		c.t.AbortWithError(err)
	}
	c.t.Cleanup(func() error {
		_, err := c.m.Execute("logger -p user.info " + shellescape.Quote("MACHTEST: end "+name))
		return err
	})

	// unmount anything bind-mounted under the backup dir before removing it
	c.t.Cleanup(func() error {
		_, err := c.m.Execute(fmt.Sprintf(
			"if [ -d %[1]s ]; then findmnt --list --noheadings --output TARGET | grep ^%[1]s | xargs -r umount; rm -rf %[1]s; fi",
			vmTmpDir))
		return err
	})
}

func (c *Case) T() *framework.Context    { return c.t }
func (c *Case) Machine() machine.Machine { return c.m }
func (c *Case) ID() framework.TestID     { return c.t.ID() }
func (c *Case) Target() machine.Target   { return c.m.Target() }

func (c *Case) Errorf(format string, args ...interface{}) { c.t.Errorf(format, args...) }
func (c *Case) FailNow()                                  { c.t.FailNow() }
func (c *Case) Skip(reason string)                        { c.t.SkipWithReason(reason) }
func (c *Case) Debug(format string, args ...interface{})  { c.t.Debug(format, args...) }

// Cleanup registers a reversal action; see framework.Context.Cleanup.
func (c *Case) Cleanup(fn func() error) { c.t.Cleanup(fn) }

// must converts a hard transport or command error into a test failure and
// unwinds, so test bodies do not need error plumbing for helper calls.
func (c *Case) must(err error) {
	if err != nil {
		c.t.Errorf("%s", err)
		c.t.FailNow()
	}
}

// Execute runs a command on the target and fails the test on non-zero exit
// or an unreachable channel.
func (c *Case) Execute(command string) string {
	out, err := c.m.Execute(command)
	c.must(err)
	return out
}

// ExecuteUnchecked runs a command and returns output and exit code without
// failing on non-zero exit.
func (c *Case) ExecuteUnchecked(command string) (string, int) {
	out, code, err := c.m.ExecuteUnchecked(command)
	c.must(err)
	return out, code
}

func (c *Case) Upload(localPaths []string, remoteDir string) {
	c.must(c.m.Upload(localPaths, remoteDir))
}

func (c *Case) Download(remotePath, localPath string) {
	c.must(c.m.Download(remotePath, localPath))
}

func (c *Case) DownloadDir(remoteDir, localDir string) {
	c.must(c.m.DownloadDir(remoteDir, localDir))
}

// AllowJournalMessages tolerates journal entries completely matching the
// given regexes during this test's health check.
func (c *Case) AllowJournalMessages(patterns ...string) {
	c.allowedMessages = append(c.allowedMessages, patterns...)
}

// AllowCoreDumps disables the core-dump health check for this test.
func (c *Case) AllowCoreDumps() {
	c.allowCoreDumps = true
}

// label is the test's identifier in artifact-filename form.
func (c *Case) label() string {
	s := c.t.ID().String()
	s = strings.ReplaceAll(s, "/", "-")
	return strings.ReplaceAll(s, " ", "_")
}
