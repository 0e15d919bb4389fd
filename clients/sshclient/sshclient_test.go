package sshclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestClient_Run(t *testing.T) {
	srv := newTestServer(t)
	signer := newSigner(t)

	c, err := Dial(context.Background(), srv.addr, "ops", signer)
	require.NoError(t, err)
	defer c.Close()

	stdout, stderr, err := c.Run(context.Background(), "uptime")
	require.NoError(t, err)
	assert.Equal(t, "ran uptime\n", stdout)
	assert.Empty(t, stderr)
	assert.Equal(t, srv.addr, c.Addr())
}

func TestClient_RunNonZeroExit(t *testing.T) {
	srv := newTestServer(t)

	c, err := Dial(context.Background(), srv.addr, "ops", newSigner(t))
	require.NoError(t, err)
	defer c.Close()

	_, stderr, err := c.Run(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run command")
	assert.Equal(t, "boom\n", stderr)

	var exitErr *ssh.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitStatus())
}

func TestClient_RunContextCancelled(t *testing.T) {
	srv := newTestServer(t)

	c, err := Dial(context.Background(), srv.addr, "ops", newSigner(t))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err = c.Run(ctx, "hang")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, "ops", newSigner(t), WithTimeout(time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to dial")
}

func TestPool_ReusesConnections(t *testing.T) {
	srv := newTestServer(t)
	keyPath := writeKey(t)

	pool, err := NewPool(2, nil)
	require.NoError(t, err)
	defer pool.Close()

	a, err := pool.Get(context.Background(), srv.addr, "ops", keyPath)
	require.NoError(t, err)
	b, err := pool.Get(context.Background(), srv.addr, "ops", keyPath)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), srv.conns.Load())

	_, err = pool.Get(context.Background(), srv.addr, "deploy", keyPath)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Len())

	pool.Discard(srv.addr, "deploy", keyPath)
	assert.Equal(t, 1, pool.Len())
}

func TestPool_EvictsLeastRecentlyUsed(t *testing.T) {
	srv := newTestServer(t)
	keyPath := writeKey(t)

	pool, err := NewPool(1, nil)
	require.NoError(t, err)
	defer pool.Close()

	first, err := pool.Get(context.Background(), srv.addr, "a", keyPath)
	require.NoError(t, err)
	_, err = pool.Get(context.Background(), srv.addr, "b", keyPath)
	require.NoError(t, err)

	_, _, err = first.Run(context.Background(), "uptime")
	assert.Error(t, err, "evicted connection is closed")
}

func TestPool_BadKey(t *testing.T) {
	pool, err := NewPool(1, nil)
	require.NoError(t, err)

	_, err = pool.Get(context.Background(), "127.0.0.1:22", "ops", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading ssh key")

	garbage := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	_, err = pool.Get(context.Background(), "127.0.0.1:22", "ops", garbage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse private key")
}

// Test Helpers
// ----

// testServer is a minimal SSH server that understands three commands:
// "fail" exits 3, "hang" never exits and anything else echoes "ran <cmd>".
type testServer struct {
	addr  string
	conns atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{addr: ln.Addr().String()}
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			srv.conns.Add(1)
			go srv.serve(nc, cfg)
		}
	}()
	return srv
}

func (s *testServer) serve(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, chReqs)
	}
}

func handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		// exec payload is a uint32 length followed by the command.
		cmd := string(req.Payload[4:])
		_ = req.Reply(true, nil)

		status := uint32(0)
		switch {
		case cmd == "fail":
			fmt.Fprintln(ch.Stderr(), "boom")
			status = 3
		case cmd == "hang":
			for r := range reqs {
				if r.WantReply {
					_ = r.Reply(false, nil)
				}
			}
			return
		default:
			fmt.Fprintf(ch, "ran %s\n", strings.TrimSpace(cmd))
		}
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, status)
		_, _ = ch.SendRequest("exit-status", false, payload)
		return
	}
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func writeKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
