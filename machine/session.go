package machine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// commandRunner is the transport seam between Session and the SSH client,
// so the harness's own tests can run against a fake.
type commandRunner interface {
	run(command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
}

// Session owns one authenticated connection to a Target. Not safe for
// concurrent use: at most one command may be in flight at a time.
type Session struct {
	target Target
	opts   Options
	client *ssh.Client
	ftp    *sftp.Client
	runner commandRunner
	logger Logger
}

var _ Machine = (*Session)(nil)

func (s *Session) Target() Target { return s.target }

func (s *Session) Execute(command string) (string, error) {
	s.logger.Printf("$ %s", command)
	stdout, stderr, code, err := s.runner.run(command, s.opts.CommandTimeout)
	if err != nil {
		return stdout, err
	}
	if code != 0 {
		return stdout, &RemoteCommandError{Command: command, ExitCode: code, Stderr: stderr}
	}
	return stdout, nil
}

func (s *Session) ExecuteUnchecked(command string) (string, int, error) {
	s.logger.Printf("$ %s", command)
	stdout, _, code, err := s.runner.run(command, s.opts.CommandTimeout)
	return stdout, code, err
}

func (s *Session) Upload(localPaths []string, remoteDir string) error {
	ftp, err := s.sftpClient()
	if err != nil {
		return err
	}
	for _, local := range localPaths {
		if err := s.uploadOne(ftp, local, path.Join(remoteDir, filepath.Base(local))); err != nil {
			return fmt.Errorf("upload %s: %w", local, err)
		}
	}
	return nil
}

func (s *Session) uploadOne(ftp *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := ftp.Create(remotePath)
	if err != nil {
		return err
	}
	if _, err := dst.ReadFrom(src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	if info, err := os.Stat(localPath); err == nil {
		_ = ftp.Chmod(remotePath, info.Mode().Perm())
	}
	return nil
}

func (s *Session) Download(remotePath, localPath string) error {
	ftp, err := s.sftpClient()
	if err != nil {
		return err
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}

	src, err := ftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Session) DownloadDir(remoteDir, localDir string) error {
	ftp, err := s.sftpClient()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return err
	}

	walker := ftp.Walk(remoteDir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return fmt.Errorf("walk %s: %w", remoteDir, err)
		}
		rel, err := filepath.Rel(remoteDir, walker.Path())
		if err != nil || rel == "." {
			continue
		}
		local := filepath.Join(localDir, rel)
		if walker.Stat().IsDir() {
			if err := os.MkdirAll(local, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := s.downloadOne(ftp, walker.Path(), local); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) downloadOne(ftp *sftp.Client, remotePath, localPath string) error {
	src, err := ftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Session) Write(remotePath, content string) error {
	ftp, err := s.sftpClient()
	if err != nil {
		return err
	}
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		_ = ftp.MkdirAll(dir)
	}
	f, err := ftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Session) SedFile(remotePath, pattern, replacement string) error {
	cmd, err := SedCommand(remotePath, pattern, replacement, "")
	if err != nil {
		return err
	}
	_, err = s.Execute(cmd)
	return err
}

func (s *Session) Reachable() bool {
	_, code, err := s.ExecuteUnchecked("true")
	return err == nil && code == 0
}

func (s *Session) Close() error {
	var ferr error
	if s.ftp != nil {
		ferr = s.ftp.Close()
		s.ftp = nil
	}
	if s.client != nil {
		cerr := s.client.Close()
		s.client = nil
		if cerr != nil {
			return cerr
		}
	}
	return ferr
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	if s.ftp != nil {
		return s.ftp, nil
	}
	if s.client == nil {
		return nil, &ConnectionError{Addr: s.target.HostPort(), Err: errors.New("session closed")}
	}
	ftp, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, &ConnectionError{Addr: s.target.HostPort(), Err: err}
	}
	s.ftp = ftp
	return ftp, nil
}

// SedCommand builds a remote sed invocation applying an extended-regex
// substitution in place. A non-empty backupSuffix keeps the prior content in
// path+suffix, which the harness uses to restore files during cleanup.
func SedCommand(path, pattern, replacement, backupSuffix string) (string, error) {
	sep, err := sedSeparator(pattern, replacement)
	if err != nil {
		return "", err
	}
	expr := "s" + string(sep) + pattern + string(sep) + replacement + string(sep) + "g"
	inPlace := "-i"
	if backupSuffix != "" {
		inPlace += backupSuffix
	}
	// the expression is always quoted; shellescape would leave a plain
	// s/foo/bar/g bare, but a | separator must never reach the shell unquoted
	quoted := "'" + strings.ReplaceAll(expr, "'", `'"'"'`) + "'"
	return fmt.Sprintf("sed -E %s %s %s", inPlace, quoted, shellescape.Quote(path)), nil
}

func sedSeparator(pattern, replacement string) (byte, error) {
	for _, sep := range []byte("/|,#%@^") {
		if !strings.ContainsRune(pattern, rune(sep)) && !strings.ContainsRune(replacement, rune(sep)) {
			return sep, nil
		}
	}
	return 0, fmt.Errorf("no usable sed separator for pattern %q", pattern)
}

// sshRunner executes commands over a shared ssh.Client, one ssh session per
// command. The optional timeout races the command against a context deadline;
// a command that overruns leaves the remote side in an undefined state, which
// is accepted for this tool's interactive usage.
type sshRunner struct {
	client *ssh.Client
	addr   string
}

func (r *sshRunner) run(command string, timeout time.Duration) (string, string, int, error) {
	type result struct {
		stdout   string
		stderr   string
		exitCode int
		err      error
	}

	runOnce := func() result {
		sess, err := r.client.NewSession()
		if err != nil {
			return result{err: &ConnectionError{Addr: r.addr, Err: err}}
		}
		defer sess.Close()

		var stdout, stderr bytes.Buffer
		sess.Stdout = &stdout
		sess.Stderr = &stderr

		err = sess.Run(command)
		if err == nil {
			return result{stdout: stdout.String(), stderr: stderr.String()}
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return result{stdout: stdout.String(), stderr: stderr.String(), exitCode: exitErr.ExitStatus()}
		}
		return result{stdout: stdout.String(), stderr: stderr.String(), err: &ConnectionError{Addr: r.addr, Err: err}}
	}

	if timeout <= 0 {
		res := runOnce()
		return res.stdout, res.stderr, res.exitCode, res.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ch := make(chan result, 1)
	go func() { ch <- runOnce() }()

	select {
	case res := <-ch:
		return res.stdout, res.stderr, res.exitCode, res.err
	case <-ctx.Done():
		return "", "", -1, &ConnectionError{Addr: r.addr, Err: fmt.Errorf("command %q: %w", command, context.DeadlineExceeded)}
	}
}
