package machinetest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"machtest/framework"
)

const coreDumpDir = "/var/lib/systemd/coredump"

// defaultAllowedMessages are journal entries the health check tolerates.
// Each pattern must match an entire message.
var defaultAllowedMessages = []string{
	// Reboots are ok
	"-- Reboot --",

	// SELinux policy (re)load notifications
	"(audit: )?type=1403 audit.*",
	"(audit: )?type=1404 audit.*",

	// core dump retrieval is not entirely reliable
	"Failed to send coredump datagram:.*",

	// cursor
	"Failed to seek to cursor: Invalid argument",
}

// healthCheck runs after the test body and all cleanup actions. It can
// downgrade a passing test: kernel-level regressions surface in the journal
// or as core dumps even when every assertion in the body held.
func (c *Case) healthCheck(t *framework.Context) {
	if !c.m.Reachable() {
		t.Debug("machine is not reachable, skipping post-test health checks")
		return
	}
	c.checkJournal(t)
	c.checkCoreDumps(t)
}

func (c *Case) checkJournal(t *framework.Context) {
	identifiers := []string{"kernel"}
	if !c.allowCoreDumps {
		identifiers = append(identifiers, "systemd-coredump")
	}
	messages, err := c.m.JournalMessages(identifiers, 5, c.journalCursor)
	if err != nil {
		t.Errorf("could not read the journal for the health check: %s", err)
		return
	}
	if audit, err := c.m.AuditMessages("14", c.journalCursor); err == nil {
		messages = append(messages, audit...)
	}

	unexpected := scanJournal(messages, c.allowedMessages)
	if len(unexpected) == 0 {
		return
	}
	if path := c.copyJournal(t); path != "" {
		t.AddArtifact(path)
	}
	t.Errorf("test completed, but found unexpected journal messages:\n%s", strings.Join(unexpected, "\n"))
}

func (c *Case) checkCoreDumps(t *framework.Context) {
	out, _, err := c.m.ExecuteUnchecked(fmt.Sprintf("ls -A %s 2>/dev/null", coreDumpDir))
	if err != nil {
		t.Errorf("could not check for core dumps: %s", err)
		return
	}
	var dumps []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			dumps = append(dumps, line)
		}
	}

	// core dumps are copied per test; remove them so they cannot clobber
	// subsequent tests on the same machine
	defer func() {
		_, _, _ = c.m.ExecuteUnchecked("rm -rf " + coreDumpDir)
	}()

	if len(dumps) == 0 || c.allowCoreDumps {
		return
	}

	dest := filepath.Join(c.cfg.ResultsDir, c.label()+".core")
	if err := os.MkdirAll(c.cfg.ResultsDir, 0o755); err == nil {
		if err := c.m.DownloadDir(coreDumpDir, dest); err == nil {
			t.AddArtifact(dest)
		} else {
			t.Debug("could not download core dumps: %s", err)
		}
	}
	t.Errorf("test completed, but processes dumped core: %s", strings.Join(dumps, ", "))
}

func (c *Case) copyJournal(t *framework.Context) string {
	out, err := c.m.Execute("journalctl -o short-iso")
	if err != nil {
		t.Debug("could not extract the journal: %s", err)
		return ""
	}
	if err := os.MkdirAll(c.cfg.ResultsDir, 0o755); err != nil {
		return ""
	}
	dest := filepath.Join(c.cfg.ResultsDir, c.label()+"-journal.log")
	if err := os.WriteFile(dest, []byte(out), 0o644); err != nil {
		return ""
	}
	return dest
}

// scanJournal returns the messages not fully matched by any allowed pattern.
// A failed stack-trace extraction makes the subsequent "dumped core" message
// unactionable, so seeing one adds that allowance on the fly.
func scanJournal(messages, allowed []string) []string {
	allowed = append([]string(nil), allowed...)
	var unexpected []string
	for _, m := range messages {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if m == "Failed to generate stack trace: (null)" {
			allowed = append(allowed, "Process .* of user .* dumped core.*")
			continue
		}
		if !matchesAny(allowed, m) {
			unexpected = append(unexpected, m)
		}
	}
	return unexpected
}

func matchesAny(patterns []string, message string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			continue
		}
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
