package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/nomis52/capexec/config"
)

const stderrTail = 512

func (b *Builder) execTask(t *config.ExecTask) (func() (runner, error), error) {
	argv, err := shlex.Split(t.Command)
	if err != nil {
		return nil, fmt.Errorf("exec: parsing command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("exec: empty command")
	}

	env := os.Environ()
	for k, v := range t.Env {
		env = append(env, k+"="+v)
	}

	return func() (runner, error) {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		return func(ctx context.Context, logger *slog.Logger) (string, any, error) {
			cmd := exec.CommandContext(ctx, path, argv[1:]...)
			cmd.Dir = t.Dir
			cmd.Env = env
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			logger.Debug("running command", "argv", argv)
			err := cmd.Run()
			out := strings.TrimRight(stdout.String(), "\n")
			if err != nil {
				if msg := strings.TrimSpace(stderr.String()); msg != "" {
					return out, nil, fmt.Errorf("%s: %w: %s", argv[0], err, tail(msg, stderrTail))
				}
				return out, nil, fmt.Errorf("%s: %w", argv[0], err)
			}
			return out, nil, nil
		}, nil
	}, nil
}
