package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	obperrors "github.com/Aman-CERP/obplan/internal/errors"
)

// SSHConfig holds remote login settings shared by every host.
type SSHConfig struct {
	User           string
	Password       string
	KeyFile        string
	Port           int
	KnownHostsFile string
	Timeout        time.Duration
	DialAttempts   uint
}

// SSHExecutor runs commands over SSH, keeping one client per host.
type SSHExecutor struct {
	cfg SSHConfig

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHExecutor returns an SSHExecutor. Connections are opened lazily.
func NewSSHExecutor(cfg SSHConfig) *SSHExecutor {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = 3
	}
	return &SSHExecutor{cfg: cfg, clients: map[string]*ssh.Client{}}
}

func (s *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.cfg.KeyFile != "" {
		pem, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, obperrors.ConfigError("failed to read ssh key", err).
				WithDetail("key_file", s.cfg.KeyFile)
		}
		var signer ssh.Signer
		if s.cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(s.cfg.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, obperrors.ConfigError("failed to parse ssh key", err).
				WithDetail("key_file", s.cfg.KeyFile)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, obperrors.ConfigError("failed to load known hosts", err).
				WithDetail("known_hosts", s.cfg.KnownHostsFile)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         s.cfg.Timeout,
	}, nil
}

func (s *SSHExecutor) client(ctx context.Context, host string) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[host]; ok {
		return c, nil
	}

	cfg, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))

	var c *ssh.Client
	err = retry.Do(
		func() error {
			d := net.Dialer{Timeout: s.cfg.Timeout}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
			if err != nil {
				_ = conn.Close()
				return err
			}
			c = ssh.NewClient(sc, chans, reqs)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.DialAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			slog.Warn("ssh dial failed, retrying",
				slog.String("host", host),
				slog.Uint64("attempt", uint64(attempt)),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		return nil, obperrors.New(obperrors.ErrCodeHostUnreachable,
			fmt.Sprintf("cannot connect to %s", addr), err).
			WithDetail("host", host).
			WithSuggestion("Check that the host is reachable and the ssh user/key in the topology are correct")
	}
	s.clients[host] = c
	return c, nil
}

func (s *SSHExecutor) run(ctx context.Context, host, cmd string, stdin []byte) Result {
	c, err := s.client(ctx, host)
	if err != nil {
		return Result{ExitCode: -1, Err: err}
	}
	sess, err := c.NewSession()
	if err != nil {
		return Result{ExitCode: -1, Err: obperrors.RemoteError("failed to open ssh session", err)}
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		return Result{ExitCode: -1, Err: ctx.Err()}
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		res.Success = true
		return res
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res
	}
	res.ExitCode = -1
	res.Err = obperrors.RemoteError(fmt.Sprintf("%s: command failed", host), err)
	return res
}

// Execute implements Executor.
func (s *SSHExecutor) Execute(ctx context.Context, host, cmd string) Result {
	slog.Debug("ssh execute", slog.String("host", host), slog.String("cmd", cmd))
	return s.run(ctx, host, cmd, nil)
}

// IsLocalhost implements Executor.
func (s *SSHExecutor) IsLocalhost(host string) bool {
	return IsLocalAddress(host)
}

// ReadFile implements Executor.
func (s *SSHExecutor) ReadFile(ctx context.Context, host, p string) ([]byte, error) {
	res := s.run(ctx, host, "cat "+ShellQuote(p), nil)
	if !res.Success {
		return nil, resultError(host, "read "+p, res)
	}
	return []byte(res.Stdout), nil
}

// WriteFile implements Executor.
func (s *SSHExecutor) WriteFile(ctx context.Context, host, p string, data []byte) error {
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", ShellQuote(path.Dir(p)), ShellQuote(p))
	res := s.run(ctx, host, cmd, data)
	if !res.Success {
		return resultError(host, "write "+p, res)
	}
	return nil
}

// Close closes every open connection.
func (s *SSHExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for host, c := range s.clients {
		err = multierr.Append(err, c.Close())
		delete(s.clients, host)
	}
	return err
}

func resultError(host, op string, res Result) error {
	if res.Err != nil {
		return res.Err
	}
	return obperrors.RemoteError(fmt.Sprintf("%s: %s failed", host, op), nil).
		WithDetail("exit_code", strconv.Itoa(res.ExitCode)).
		WithDetail("stderr", res.Stderr)
}
