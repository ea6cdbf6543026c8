//go:build !windows

package shellenv

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_HarvestsShellEnv(t *testing.T) {
	s := New(WithShell("/bin/sh"))
	env := s.Snapshot()
	require.NotEmpty(t, env)
	assert.NotEmpty(t, env["PATH"], "a login shell always exports PATH")
}

func TestSnapshot_FallsBackToProcessEnv(t *testing.T) {
	t.Setenv("SHELLENV_CANARY", "present")
	s := New(WithShell("/nonexistent/shell"))
	env := s.Snapshot()
	assert.Equal(t, "present", env["SHELLENV_CANARY"])
	assert.Equal(t, os.Getenv("PATH"), env["PATH"])
}

func TestSnapshot_SingleFlight(t *testing.T) {
	// Concurrent first callers all block on one load and see the same
	// result.
	s := New(WithShell("/bin/sh"))

	const callers = 8
	var wg sync.WaitGroup
	envs := make([]map[string]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			envs[i] = s.Snapshot()
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, envs[0], envs[i])
	}
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	s := New(WithShell("/bin/sh"))
	a := s.Snapshot()
	a["MUTATED"] = "yes"
	b := s.Snapshot()
	_, ok := b["MUTATED"]
	assert.False(t, ok, "callers must not share the cached map")
}

func TestEnviron_SortedKeyValueForm(t *testing.T) {
	s := New(WithShell("/bin/sh"))
	kvs := s.Environ()
	require.NotEmpty(t, kvs)
	for i, kv := range kvs {
		assert.Contains(t, kv, "=")
		if i > 0 {
			assert.LessOrEqual(t, kvs[i-1], kv)
		}
	}
}

func TestReload_RefreshesCache(t *testing.T) {
	s := New(WithShell("/nonexistent/shell"))
	_ = s.Snapshot()

	t.Setenv("SHELLENV_RELOAD_CANARY", "after")
	s.Reload()
	env := s.Snapshot()
	assert.Equal(t, "after", env["SHELLENV_RELOAD_CANARY"])
}

func TestParseEnv(t *testing.T) {
	out := []byte("PATH=/usr/bin:/bin\nHOME=/home/u\nEMPTY=\nnoequals\n=novalue\nX=a=b\n")
	env := parseEnv(out)
	assert.Equal(t, "/usr/bin:/bin", env["PATH"])
	assert.Equal(t, "", env["EMPTY"])
	assert.Equal(t, "a=b", env["X"], "values keep embedded equals signs")
	_, ok := env[""]
	assert.False(t, ok)
	assert.NotContains(t, env, "noequals")
}
