package sshclient

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/ssh"
)

// DefaultPoolSize is the number of connections a Pool keeps open.
const DefaultPoolSize = 32

// Pool caches connections keyed by user, address and key. The least
// recently used connection is closed when the pool is full, so the size
// should exceed the number of distinct hosts used concurrently.
type Pool struct {
	conns   *lru.Cache[string, *Client]
	opts    []Option
	logger  *slog.Logger
	dialMu  sync.Mutex
	signers sync.Map // key path -> ssh.Signer
}

// NewPool creates a pool holding up to size connections.
func NewPool(size int, logger *slog.Logger, opts ...Option) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ssh_pool")
	conns, err := lru.NewWithEvict(size, func(key string, c *Client) {
		logger.Debug("closing ssh connection", "conn", key)
		_ = c.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("creating connection cache: %w", err)
	}
	return &Pool{conns: conns, opts: opts, logger: logger}, nil
}

// Get returns a cached connection or dials a new one.
func (p *Pool) Get(ctx context.Context, addr, user, keyPath string) (*Client, error) {
	key := user + "@" + addr + "#" + keyPath
	if c, ok := p.conns.Get(key); ok {
		return c, nil
	}

	signer, err := p.signer(keyPath)
	if err != nil {
		return nil, err
	}

	// One dial at a time keeps concurrent tasks for the same host from
	// opening duplicate connections.
	p.dialMu.Lock()
	defer p.dialMu.Unlock()
	if c, ok := p.conns.Get(key); ok {
		return c, nil
	}
	c, err := Dial(ctx, addr, user, signer, p.opts...)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("opened ssh connection", "conn", key)
	p.conns.Add(key, c)
	return c, nil
}

// Discard closes and forgets the connection for the given identity, used
// after a transport error.
func (p *Pool) Discard(addr, user, keyPath string) {
	p.conns.Remove(user + "@" + addr + "#" + keyPath)
}

// Len returns the number of open connections.
func (p *Pool) Len() int {
	return p.conns.Len()
}

// Close closes every pooled connection.
func (p *Pool) Close() {
	p.conns.Purge()
}

func (p *Pool) signer(keyPath string) (ssh.Signer, error) {
	if s, ok := p.signers.Load(keyPath); ok {
		return s.(ssh.Signer), nil
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	s, err := ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	p.signers.Store(keyPath, s)
	return s, nil
}
