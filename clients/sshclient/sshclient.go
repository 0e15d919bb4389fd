// Package sshclient runs commands on remote hosts over SSH.
package sshclient

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const defaultDialTimeout = 15 * time.Second

// Client is a persistent SSH connection that runs one session per command.
type Client struct {
	client *ssh.Client
	addr   string
}

// Option configures a Client.
type Option func(*ssh.ClientConfig)

// WithHostKeyCallback sets the host key verification. The default accepts
// any host key.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *ssh.ClientConfig) {
		c.HostKeyCallback = cb
	}
}

// WithTimeout bounds the TCP connect and SSH handshake.
func WithTimeout(d time.Duration) Option {
	return func(c *ssh.ClientConfig) {
		c.Timeout = d
	}
}

// Dial connects to addr as user, authenticating with signer. The handshake
// is abandoned when ctx is cancelled.
func Dial(ctx context.Context, addr, user string, signer ssh.Signer, opts ...Option) (*Client, error) {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	// ssh.NewClientConn has no context; closing the conn unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &Client{client: ssh.NewClient(c, chans, reqs), addr: addr}, nil
}

// ParsePrivateKey parses a PEM encoded private key.
func ParsePrivateKey(pemBytes []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// Run executes command in a new session and returns its stdout and stderr.
// If ctx ends first the session is closed and ctx.Err() is returned.
func (c *Client) Run(ctx context.Context, command string) (string, string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		if err != nil {
			return stdout.String(), stderr.String(), fmt.Errorf("failed to run command: %w", err)
		}
		return stdout.String(), stderr.String(), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return stdout.String(), stderr.String(), ctx.Err()
	}
}

// Addr returns the remote address.
func (c *Client) Addr() string {
	return c.addr
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}
