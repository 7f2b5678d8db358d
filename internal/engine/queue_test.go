package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/hostmigrate/internal/command/commandtest"
)

func TestQueueAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.queue")
	q := Queue{Path: path}

	require.NoError(t, q.Append(Task("action=backup&select0=alice")))
	require.NoError(t, q.Append(Task("action=restore&select0=x")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "action=backup&select0=alice\naction=restore&select0=x\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Error(t, q.Append(Task("a=b\nc=d")))
	assert.Error(t, Queue{Path: filepath.Join(t.TempDir(), "no", "dir")}.Append(Task("a=b")))
}

func TestDetectFailure(t *testing.T) {
	patterns := []string{"error", "permission denied"}

	assert.Nil(t, DetectFailure("all good", 0, patterns))

	f := DetectFailure("Backup ERROR: disk full", 0, patterns)
	require.NotNil(t, f)
	assert.Equal(t, "error", f.Pattern)
	assert.Equal(t, 0, f.ExitCode)

	f = DetectFailure("silent", 2, patterns)
	require.NotNil(t, f)
	assert.Equal(t, 2, f.ExitCode)
	assert.Contains(t, f.Error(), "exited with code 2")
}

func TestTriggerRun(t *testing.T) {
	runner := commandtest.New().
		On(commandtest.Response{Output: "queued 2 tasks"}, "/usr/local/bin/dataskq", "d")
	trigger, err := NewTrigger("/usr/local/bin/dataskq d", runner, []string{"failed"}, nil)
	require.NoError(t, err)

	out, err := trigger.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued 2 tasks", out)
	assert.Equal(t, []string{"/usr/local/bin/dataskq d"}, runner.Keys())
}

func TestTriggerRunFailures(t *testing.T) {
	tests := []struct {
		name     string
		resp     commandtest.Response
		wantCode int
		engine   bool
	}{
		{"failure text with exit 0", commandtest.Response{Output: "Task FAILED for alice"}, 0, true},
		{"non-zero exit", commandtest.Response{Output: "", Err: commandtest.ExitError{Code: 1}}, 1, true},
		{"cannot start", commandtest.Response{Err: errors.New("exec: not found")}, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := commandtest.New().On(tt.resp, "dataskq", "d")
			trigger, err := NewTrigger(`dataskq "d"`, runner, []string{"failed"}, nil)
			require.NoError(t, err)

			_, err = trigger.Run(context.Background())
			require.Error(t, err)
			var failure *EngineFailure
			if tt.engine {
				require.True(t, errors.As(err, &failure), "err=%v", err)
				assert.Equal(t, tt.wantCode, failure.ExitCode)
			} else {
				assert.False(t, errors.As(err, &failure))
			}
		})
	}
}

func TestNewTriggerRejectsBadCommand(t *testing.T) {
	_, err := NewTrigger("", commandtest.New(), nil, nil)
	assert.Error(t, err)
	_, err = NewTrigger(`"unterminated`, commandtest.New(), nil, nil)
	assert.Error(t, err)
}
