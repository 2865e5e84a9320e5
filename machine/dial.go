package machine

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options controls how a Session is established and how commands behave.
type Options struct {
	// DialTimeout bounds connection establishment. Zero means the dialer's
	// default behavior.
	DialTimeout time.Duration

	// CommandTimeout bounds each remote command. Zero disables the bound;
	// long-running remote commands then block the whole run, which is the
	// accepted model for this tool's interactive usage.
	CommandTimeout time.Duration

	// StrictHostKey requires host key verification against KnownHostsFile.
	// Test machines are usually freshly provisioned with unknown keys, so
	// this defaults to off.
	StrictHostKey  bool
	KnownHostsFile string

	// Logger receives a line per issued command; nil discards.
	Logger Logger
}

// Dial opens an authenticated SSH connection to the target. Failures to
// connect or authenticate are reported as *ConnectionError.
func Dial(target Target, opts Options) (*Session, error) {
	auths, err := authMethods(target)
	if err != nil {
		return nil, &ConnectionError{Addr: target.HostPort(), Err: err}
	}

	hostKeyCB := ssh.InsecureIgnoreHostKey() //nolint:gosec // ephemeral test machines
	if opts.StrictHostKey {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, &ConnectionError{Addr: target.HostPort(), Err: fmt.Errorf("known_hosts: %w", err)}
		}
		hostKeyCB = cb
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
		Timeout:         opts.DialTimeout,
	}

	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.Dial("tcp", target.HostPort())
	if err != nil {
		return nil, &ConnectionError{Addr: target.HostPort(), Err: err}
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, target.HostPort(), config)
	if err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Addr: target.HostPort(), Err: err}
	}
	client := ssh.NewClient(c, chans, reqs)

	logger := opts.Logger
	if logger == nil {
		logger = nullLogger{}
	}

	return &Session{
		target: target,
		opts:   opts,
		client: client,
		runner: &sshRunner{client: client, addr: target.HostPort()},
		logger: logger,
	}, nil
}

func authMethods(target Target) ([]ssh.AuthMethod, error) {
	var auths []ssh.AuthMethod

	if target.IdentityFile != "" {
		key, err := os.ReadFile(target.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", target.IdentityFile, err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	// ssh-agent, when one is around
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if target.Password != "" {
		auths = append(auths, ssh.Password(target.Password))
	}

	if len(auths) == 0 {
		return nil, fmt.Errorf("no usable authentication method for %s", target.User)
	}
	return auths, nil
}
