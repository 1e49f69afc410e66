package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHTimeout = 30 * time.Second

// SSHConfig describes the remote endpoint ssh steps connect to. KeyFile and
// Password are alternative auth methods; KeyFile wins when both are set.
// Without a KnownHostsFile the host key is not verified.
type SSHConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	KeyFile        string        `yaml:"key_file"`
	Password       string        `yaml:"password"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SSHExecutor runs "ssh" steps: it dials the configured host, executes the
// step's command, and reports exit code plus captured output. Each step run
// uses a fresh connection.
type SSHExecutor struct {
	cfg      SSHConfig
	client   *ssh.ClientConfig
	hostAddr string
}

// NewSSHExecutor validates the config and prepares the client settings.
// Dialing happens per step run, so a dead endpoint surfaces as step
// failures rather than a construction error.
func NewSSHExecutor(cfg SSHConfig) (*SSHExecutor, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh executor requires a host")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh executor requires a user")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSSHTimeout
	}

	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh executor requires a key_file or password")
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeys = cb
	}

	return &SSHExecutor{
		cfg: cfg,
		client: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         cfg.Timeout,
		},
		hostAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}, nil
}

func (e *SSHExecutor) Kind() string { return "ssh" }

// Run executes config["command"] on the remote host. The step config may
// carry a "host" key to override the configured endpoint, keeping the
// configured port. A non-zero exit code is a step failure with output still
// captured; connection and session errors are returned as errors.
func (e *SSHExecutor) Run(ctx context.Context, config map[string]any) (map[string]any, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("ssh step requires a command")
	}

	addr := e.hostAddr
	if host, ok := config["host"].(string); ok && host != "" {
		addr = net.JoinHostPort(host, strconv.Itoa(e.cfg.Port))
	}

	dialer := net.Dialer{Timeout: e.client.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, e.client)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// The ssh package has no context support on Run, so cancellation tears
	// down the connection to unblock it.
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		client.Close()
		<-done
		return nil, fmt.Errorf("ssh command aborted: %w", ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run ssh command: %w", err)
		}
		exitCode = exitErr.ExitStatus()
	}

	return map[string]any{
		"success":   exitCode == 0,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}, nil
}
