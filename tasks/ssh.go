package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/nomis52/capexec/config"
	"golang.org/x/crypto/ssh"
)

func (b *Builder) sshTask(t *config.SSHTask) (func() (runner, error), error) {
	keyPath, ok := b.cfg.SSHKeys[t.Key]
	if !ok {
		return nil, fmt.Errorf("ssh: unknown key %q", t.Key)
	}
	addr := t.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	run := func(ctx context.Context, logger *slog.Logger) (string, any, error) {
		client, err := b.pool.Get(ctx, addr, t.User, keyPath)
		if err != nil {
			return "", nil, fmt.Errorf("ssh %s: %w", addr, err)
		}
		logger.Debug("running remote command", "host", addr, "command", t.Command)
		stdout, stderr, err := client.Run(ctx, t.Command)
		out := strings.TrimRight(stdout, "\n")
		if err != nil {
			var exitErr *ssh.ExitError
			if !errors.As(err, &exitErr) && ctx.Err() == nil {
				b.pool.Discard(addr, t.User, keyPath)
			}
			if msg := strings.TrimSpace(stderr); msg != "" {
				return out, nil, fmt.Errorf("ssh %s: %w: %s", addr, err, tail(msg, stderrTail))
			}
			return out, nil, fmt.Errorf("ssh %s: %w", addr, err)
		}
		return out, nil, nil
	}
	return func() (runner, error) { return run, nil }, nil
}
