package machine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"
)

// JournalCursor returns an opaque cursor marking the current end of the
// target's journal, recorded at test start so later scans only see entries
// produced during the test.
func (s *Session) JournalCursor() (string, error) {
	out, err := s.Execute("journalctl --show-cursor -n0 -o cat")
	if err != nil {
		return "", err
	}
	cursor, err := parseJournalCursor(out)
	if err != nil {
		return "", err
	}
	return cursor, nil
}

func parseJournalCursor(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "-- cursor:"); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", fmt.Errorf("no cursor in journalctl output: %q", out)
}

// JournalMessages returns journal entries for the given syslog identifiers at
// the given priority or higher severity, optionally restricted to entries
// after a cursor. journalctl exits non-zero when there are no matching
// entries, so the exit status is not checked.
func (s *Session) JournalMessages(identifiers []string, priority int, cursor string) ([]string, error) {
	out, _, err := s.ExecuteUnchecked(journalMessagesCommand(identifiers, priority, cursor))
	if err != nil {
		return nil, err
	}
	return journalLines(out), nil
}

func journalMessagesCommand(identifiers []string, priority int, cursor string) string {
	cmd := fmt.Sprintf("journalctl -o cat -p %d", priority)
	if cursor != "" {
		cmd += " --after-cursor " + shellescape.Quote(cursor)
	}
	for _, id := range identifiers {
		cmd += " -t " + shellescape.Quote(id)
	}
	return cmd
}

// AuditMessages returns audit records whose type matches the given numeric
// prefix, e.g. "14" for the selinux range.
func (s *Session) AuditMessages(typePrefix, cursor string) ([]string, error) {
	cmd := "journalctl -o cat _TRANSPORT=audit"
	if cursor != "" {
		cmd += " --after-cursor " + shellescape.Quote(cursor)
	}
	out, _, err := s.ExecuteUnchecked(cmd)
	if err != nil {
		return nil, err
	}
	return filterAuditLines(journalLines(out), typePrefix), nil
}

func filterAuditLines(lines []string, typePrefix string) []string {
	re := regexp.MustCompile(`type=` + regexp.QuoteMeta(typePrefix) + `\d\d`)
	var out []string
	for _, line := range lines {
		if re.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}

func journalLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "-- No entries --" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
