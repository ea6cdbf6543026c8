//go:build !windows

package supervise

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

func TestResolveExecutable_PlainBinary(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "agent")
	writeFile(t, bin, "#!/bin/sh\nexit 0\n", 0o755)

	r, err := resolveExecutable(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, r.path)
	assert.Empty(t, r.prefixArgs)
	assert.Equal(t, dir, r.dir)
}

func TestResolveExecutable_FollowsOneSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real-agent")
	writeFile(t, real, "#!/usr/bin/env node\nconsole.log('hi')\n", 0o755)
	node := filepath.Join(dir, "node")
	writeFile(t, node, "#!/bin/sh\nexit 0\n", 0o755)

	link := filepath.Join(dir, "agent")
	require.NoError(t, os.Symlink("real-agent", link))

	r, err := resolveExecutable(link)
	require.NoError(t, err)
	assert.Equal(t, node, r.path, "launcher script behind the symlink should be detected")
	assert.Equal(t, []string{link}, r.prefixArgs, "the original path is the script argument")
}

func TestResolveExecutable_EnvNodeScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "cli.js")
	writeFile(t, script, "#!/usr/bin/env node\nprocess.exit(0)\n", 0o755)
	node := filepath.Join(dir, "node")
	writeFile(t, node, "#!/bin/sh\nexit 0\n", 0o755)

	r, err := resolveExecutable(script)
	require.NoError(t, err)
	assert.Equal(t, node, r.path)
	assert.Equal(t, []string{script}, r.prefixArgs)
}

func TestResolveExecutable_EnvNodeSplitFlag(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "cli.js")
	writeFile(t, script, "#!/usr/bin/env -S node --no-warnings\n", 0o755)
	node := filepath.Join(dir, "node")
	writeFile(t, node, "#!/bin/sh\nexit 0\n", 0o755)

	r, err := resolveExecutable(script)
	require.NoError(t, err)
	assert.Equal(t, node, r.path)
}

func TestResolveExecutable_NonScriptUntouched(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "agent")
	writeFile(t, bin, "\x7fELF not a script", 0o755)

	r, err := resolveExecutable(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, r.path)
	assert.Empty(t, r.prefixArgs)
}

func TestFindNode_PrefersGivenDirs(t *testing.T) {
	dir := t.TempDir()
	node := filepath.Join(dir, "node")
	writeFile(t, node, "#!/bin/sh\n", 0o755)

	got, err := findNode(dir)
	require.NoError(t, err)
	assert.Equal(t, node, got)
}

func TestFindNode_SkipsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "node"), "data", 0o644)

	got, err := findNode(dir)
	if err == nil {
		assert.NotEqual(t, filepath.Join(dir, "node"), got,
			"a non-executable candidate must be skipped")
	}
}
