package provider

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider(t *testing.T) {
	_, err := NewFileProviderWithOptions(nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0644))

	p, err := NewFileProviderWithOptions(&FileProviderOptions{FilePath: path})
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))

	var latest atomic.Value
	p.OnChange(func(data []byte) error {
		latest.Store(string(data))
		return nil
	})
	require.NoError(t, p.Watch())
	require.NoError(t, p.Watch())

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0644))
	assert.Eventually(t, func() bool {
		v, _ := latest.Load().(string)
		return v == "a: 2\n"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestFileProviderMissingFile(t *testing.T) {
	p, err := NewFileProviderWithOptions(&FileProviderOptions{FilePath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
	_, err = p.Load()
	assert.Error(t, err)
}

func TestEnvProvider(t *testing.T) {
	p, err := NewEnvProviderWithOptions(&EnvProviderOptions{Prefix: "SECIDX_"})
	require.NoError(t, err)
	p.environ = func() []string {
		return []string{"SECIDX_LOGGER_LEVEL=debug", "SECIDX_WORKERS=4", "HOME=/root", "SECIDX_=x", "BROKEN"}
	}

	data, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "LOGGER_LEVEL=debug\nWORKERS=4", string(data))

	assert.NoError(t, p.Watch())
	assert.NoError(t, p.Close())
}

func TestCmdProvider(t *testing.T) {
	t.Run("long options", func(t *testing.T) {
		p, err := NewCmdProviderWithOptions(&CmdProviderOptions{Args: []string{
			"-v", "positional", "--backfill-workers=8", "--query", "email = 'a@x.com'", "--explain", "--", "--limit", "-5", "--limit=3",
		}})
		require.NoError(t, err)

		data, err := p.Load()
		require.NoError(t, err)
		assert.Equal(t, "backfill-workers=8\nexplain=true\nlimit=3\nquery=email = 'a@x.com'", string(data))
		assert.NoError(t, p.Watch())
		assert.NoError(t, p.Close())
	})

	t.Run("prefix", func(t *testing.T) {
		p, err := NewCmdProviderWithOptions(&CmdProviderOptions{Prefix: "secidx-", Args: []string{"--secidx-limit=3", "--other=1", "--secidx-"}})
		require.NoError(t, err)

		data, err := p.Load()
		require.NoError(t, err)
		assert.Equal(t, "limit=3", string(data))
	})
}
