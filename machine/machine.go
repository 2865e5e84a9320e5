// Package machine provides authenticated shell and file-transfer access to a
// remote target machine over SSH. A Session owns one connection; it is not
// safe for concurrent use and expects at most one in-flight command at a time.
package machine

import (
	"fmt"
	"net"
	"strconv"
)

// Target identifies the remote host under test. It is supplied by the
// operator per invocation and immutable for the duration of a run.
type Target struct {
	Address      string `yaml:"address"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity"`
	Password     string `yaml:"password"`
}

func (t Target) HostPort() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(port))
}

// SSHCommand returns a command line an operator can paste to reach the
// target, shown when sitting on a failure for live inspection.
func (t Target) SSHCommand() string {
	cmd := "ssh"
	if t.Port != 0 && t.Port != 22 {
		cmd += fmt.Sprintf(" -p %d", t.Port)
	}
	if t.IdentityFile != "" {
		cmd += " -i " + t.IdentityFile
	}
	return fmt.Sprintf("%s %s@%s", cmd, t.User, t.Address)
}

// Machine is the capability surface that test cases consume. Session is the
// real implementation; tests of the harness itself substitute fakes.
type Machine interface {
	Target() Target

	// Execute runs a shell command and returns its stdout. A non-zero exit
	// yields a *RemoteCommandError carrying the exit code and stderr.
	Execute(command string) (string, error)

	// ExecuteUnchecked runs a command without treating a non-zero exit as an
	// error; it returns stdout and the exit code. The error is non-nil only
	// for transport failures.
	ExecuteUnchecked(command string) (string, int, error)

	Upload(localPaths []string, remoteDir string) error
	Download(remotePath, localPath string) error
	DownloadDir(remoteDir, localDir string) error
	Write(remotePath, content string) error
	SedFile(remotePath, pattern, replacement string) error

	JournalCursor() (string, error)
	JournalMessages(identifiers []string, priority int, cursor string) ([]string, error)
	AuditMessages(typePrefix, cursor string) ([]string, error)

	Reachable() bool
	Close() error
}

// Logger is the minimal logging surface the session needs; the framework's
// loggers satisfy it.
type Logger interface {
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}
