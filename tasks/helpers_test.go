package tasks

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nomis52/capexec/config"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func newBuilder(t *testing.T, keys map[string]string) *Builder {
	t.Helper()
	cfg := &config.Config{SSHKeys: keys}
	cfg.SetDefaults()
	b, err := NewBuilder(cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

// runTask builds, admits and awaits a single task.
func runTask(t *testing.T, b *Builder, tc config.TaskConfig) (Result, error) {
	t.Helper()
	f, err := b.Factory(context.Background(), "test", tc, slog.Default())
	require.NoError(t, err)
	op, err := f()
	require.NoError(t, err)
	return op.Await()
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
