package shell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArgv(t *testing.T) {
	l := NewLocal("sudo")
	assert.Equal(t,
		[]string{"sudo", "-n", "nvme", "list", "--output-format=json"},
		l.Argv(Command{Name: "nvme", Args: []string{"list", "--output-format=json"}, Sudo: true}))
	assert.Equal(t,
		[]string{"nvme", "list"},
		l.Argv(Command{Name: "nvme", Args: []string{"list"}}))

	unwrapped := NewLocal("")
	assert.Equal(t, []string{"fio", "job.fio"}, unwrapped.Argv(Command{Name: "fio", Args: []string{"job.fio"}, Sudo: true}))
}

func TestLocalRun(t *testing.T) {
	l := NewLocal("")

	res, err := l.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalRunFailure(t *testing.T) {
	l := NewLocal("")

	res, err := l.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)

	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.ExitCode)
	assert.True(t, errors.Is(err, ErrCommandFailed))
	assert.Contains(t, err.Error(), "exit 3")
	assert.Contains(t, err.Error(), "broken")
}

func TestLocalRunMissingBinary(t *testing.T) {
	res, err := NewLocal("").Run(context.Background(), Command{Name: "/nonexistent/nvmepts-tool"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestLocalRunTimeout(t *testing.T) {
	start := time.Now()
	_, err := NewLocal("").Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestFake(t *testing.T) {
	f := NewFake().
		Stdout("nvme", "list", `{"Devices":[]}`).
		Stdout("nvme", "", "generic")

	res, err := f.Run(context.Background(), Command{Name: "/usr/sbin/nvme", Args: []string{"list"}})
	require.NoError(t, err)
	assert.Equal(t, `{"Devices":[]}`, string(res.Stdout))

	res, err = f.Run(context.Background(), Command{Name: "nvme", Args: []string{"smart-log", "/dev/nvme0n1"}})
	require.NoError(t, err)
	assert.Equal(t, "generic", string(res.Stdout))

	_, err = f.Run(context.Background(), Command{Name: "fio"})
	assert.ErrorIs(t, err, ErrCommandFailed)

	assert.Equal(t, 2, f.Count("nvme", ""))
	assert.Equal(t, 1, f.Count("nvme", "list"))
	assert.Len(t, f.Calls(), 3)
}

func TestFakeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFake().Stdout("fio", "", "").Run(ctx, Command{Name: "fio"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArgValue(t *testing.T) {
	args := []string{"--output-format=json+", "--output=/tmp/x/output.json", "/tmp/x/job.fio"}
	assert.Equal(t, "/tmp/x/output.json", ArgValue(args, "--output"))
	assert.Equal(t, "json+", ArgValue(args, "--output-format"))
	assert.Equal(t, "", ArgValue(args, "--missing"))
}
