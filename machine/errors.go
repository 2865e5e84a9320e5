package machine

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ConnectionError means the remote channel could not be reached at all:
// dialing failed, authentication failed, or an established connection died.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot reach %s: %s", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteCommandError means a command ran on the target and exited non-zero.
type RemoteCommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	msg := fmt.Sprintf("remote command %q exited with status %d", e.Command, e.ExitCode)
	if excerpt := stderrExcerpt(e.Stderr); excerpt != "" {
		msg += ": " + excerpt
	}
	return msg
}

const maxStderrExcerpt = 500

func stderrExcerpt(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) > maxStderrExcerpt {
		// never cut in the middle of a multi-byte rune
		cut := maxStderrExcerpt
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
