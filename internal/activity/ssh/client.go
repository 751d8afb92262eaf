package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	ErrHostRequired = errors.New("ssh: host is required")
	ErrUserRequired = errors.New("ssh: user is required")
	ErrNoAuth       = errors.New("ssh: password or key path is required")
)

// Client opens one connection and runs raw shell lines on it.
type Client struct {
	Host                        string
	Port                        string
	User                        string
	Password                    string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

// Session is a live connection; Close releases it.
type Session struct {
	client *ssh.Client
}

// Connect dials the remote host, honoring ctx for the TCP handshake.
func (c Client) Connect(ctx context.Context) (*Session, error) {
	address, err := c.address()
	if err != nil {
		return nil, err
	}
	config, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Session{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

// Run executes line in a fresh remote session. Cancelling ctx closes the
// session and unblocks the call.
func (s *Session) Run(ctx context.Context, line string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-done:
		}
	}()

	out, err := session.CombinedOutput(line)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return string(out), ctxErr
	}
	return string(out), err
}

func (s *Session) Close() error {
	return s.client.Close()
}

func (c Client) address() (string, error) {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return "", ErrHostRequired
	}

	if c.Port != "" {
		return net.JoinHostPort(host, c.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (c Client) clientConfig() (*ssh.ClientConfig, error) {
	if c.User == "" {
		return nil, ErrUserRequired
	}

	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := c.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.Timeout,
	}, nil
}

// authMethods prefers the credential password and falls back to the key.
func (c Client) authMethods() ([]ssh.AuthMethod, error) {
	methods := make([]ssh.AuthMethod, 0, 2)
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	if c.KeyPath != "" {
		signer, err := c.signer()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if len(methods) == 0 {
		return nil, ErrNoAuth
	}
	return methods, nil
}

func (c Client) signer() (ssh.Signer, error) {
	privateKey, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(c.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, c.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (c Client) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(c.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
