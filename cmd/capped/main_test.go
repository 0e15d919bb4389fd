package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nomis52/capexec/server/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBatchConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "batches.yaml")
	data := `
logging:
  output: ` + filepath.Join(dir, "capped.log") + `
defaults:
  max_pending: 2
batches:
  nightly:
    mode: all_settled
    tasks:
      - name: one
        exec: {command: "echo one"}
      - name: broken
        exec: {command: "sh -c 'echo oops >&2; exit 1'"}
      - name: three
        exec: {command: "echo three"}
` + extra
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_Text(t *testing.T) {
	path := writeBatchConfig(t, "")

	out, err := execute(t, "run", "-c", path, "nightly")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Regexp(t, `^nightly/one\s+fulfilled\s+one$`, lines[0])
	assert.Regexp(t, `^nightly/broken\s+rejected\s+.*exit status 1: oops$`, lines[1])
	assert.Regexp(t, `^nightly/three\s+fulfilled\s+three$`, lines[2])
	assert.Equal(t, "batch nightly: 2 fulfilled, 1 rejected (max_pending=2, mode=all_settled)", lines[3])
}

func TestRun_ModeOverrideFails(t *testing.T) {
	path := writeBatchConfig(t, "")

	out, err := execute(t, "run", "-c", path, "--mode", "all", "--max-pending", "1", "--output", "json", "nightly")
	require.Error(t, err)

	// cobra appends the error after the JSON document.
	var status runner.RunStatus
	require.NoError(t, json.NewDecoder(strings.NewReader(out)).Decode(&status))
	require.Len(t, status.Tasks, 3)
	assert.Equal(t, runner.TaskFulfilled, status.Tasks[0].State)
	assert.Equal(t, runner.TaskRejected, status.Tasks[1].State)
	assert.Equal(t, runner.TaskSkipped, status.Tasks[2].State)
	assert.Equal(t, runner.TriggerCLI, status.Trigger)
}

func TestRun_InvalidFlags(t *testing.T) {
	path := writeBatchConfig(t, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad cap", []string{"--max-pending", "many"}, "maxPending is invalid: many"},
		{"zero cap", []string{"--max-pending", "0"}, "maxPending is invalid: 0"},
		{"bad mode", []string{"--mode", "some"}, "--mode"},
		{"bad output", []string{"--output", "xml"}, "invalid output format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "-c", path}, tt.args...)
			_, err := execute(t, append(args, "nightly")...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_UnknownBatch(t *testing.T) {
	path := writeBatchConfig(t, "")

	_, err := execute(t, "run", "-c", path, "weekly")
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrUnknownBatch)
}

func TestRun_RequiresConfigAndBatch(t *testing.T) {
	_, err := execute(t, "run", "nightly")
	require.Error(t, err)

	_, err = execute(t, "run", "-c", "batches.yaml")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "capped dev")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var props map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &props))
	assert.Equal(t, "dev", props["version"])
}

func TestTaskDetail(t *testing.T) {
	assert.Equal(t, "boom", taskDetail(runner.TaskExecution{Error: "boom", Output: "x"}))
	assert.Equal(t, "ok", taskDetail(runner.TaskExecution{Value: "ok", Output: "x"}))
	assert.Equal(t, "first", taskDetail(runner.TaskExecution{Output: "first\nsecond"}))
}
