package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	dir := t.TempDir()
	j, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, j.Dir())
	assert.Equal(t, filepath.Join(dir, "round-1", "rr-65", "bs-4k", "wdpc"), j.Path("round-1/rr-65/bs-4k/wdpc"))
}

func TestSaveOutput(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, j.SaveOutput("platform/lspci", []byte("00:00.0 Host bridge\n"), nil))

	out, err := j.ReadFile("platform/lspci", StdoutFile)
	require.NoError(t, err)
	assert.Equal(t, "00:00.0 Host bridge\n", string(out))

	_, err = os.Stat(filepath.Join(j.Path("platform/lspci"), StderrFile))
	assert.True(t, os.IsNotExist(err), "empty stderr must not be written")

	require.NoError(t, j.SaveOutput("purge/nvme-format", nil, nil))
	_, err = os.Stat(j.Path("purge/nvme-format"))
	assert.True(t, os.IsNotExist(err), "nothing to write means no directory")
}

func TestSaveJSON(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)

	in := map[string]interface{}{"queue": map[string]string{"scheduler": "none"}}
	require.NoError(t, j.SaveJSON("settings/queue", in))

	raw, err := j.ReadFile("settings/queue", DataFile)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"queue\": {\n        \"scheduler\": \"none\"\n    }\n}\n", string(raw))

	var out map[string]map[string]string
	require.NoError(t, j.ReadJSON("settings/queue", &out))
	assert.Equal(t, "none", out["queue"]["scheduler"])
}

func TestSaveFileAtomic(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, j.SaveFile("wipc", JobFile, []byte("first")))
	require.NoError(t, j.SaveFile("wipc", JobFile, []byte("second")))

	data, err := j.ReadFile("wipc", JobFile)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(j.Path("wipc"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestReadMissing(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = j.ReadFile("nope", DataFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSteps(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)

	steps, err := j.Steps()
	require.NoError(t, err)
	assert.Empty(t, steps)

	require.NoError(t, j.SaveFile("round-1/rr-100/bs-1024k/wdpc", OutputFile, []byte("{}")))
	require.NoError(t, j.SaveOutput("device/nvme-id-ctrl", []byte("{}"), nil))
	require.NoError(t, j.SaveJSON("settings/queue", map[string]string{}))
	_, err = j.Mkdir("round-2")
	require.NoError(t, err)

	steps, err = j.Steps()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"device/nvme-id-ctrl",
		"round-1/rr-100/bs-1024k/wdpc",
		"settings/queue",
	}, steps)
}
