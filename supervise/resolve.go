//go:build !windows

package supervise

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// nodeCandidateDirs are probed for a node interpreter, in order, before
// falling back to PATH lookup.
var nodeCandidateDirs = []string{
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/opt/local/bin",
	"/usr/bin",
}

// resolved describes how to actually invoke a peer executable after
// symlink and launcher-script detection.
type resolved struct {
	// path is the executable to hand to exec.
	path string
	// prefixArgs are inserted before the caller's args. Non-empty only
	// for env-node launcher scripts, where the script path itself
	// becomes the interpreter's first argument.
	prefixArgs []string
	// dir is the directory of the original (pre-resolution) path,
	// prepended to the child's PATH.
	dir string
}

// resolveExecutable follows at most one symlink level and detects
// scripts that start with an env-node shebang. Such scripts are run
// through a located node binary with the original path as the script
// argument, because a child spawned outside a shell may not have node
// on its inherited PATH.
func resolveExecutable(path string) (resolved, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return resolved{}, fmt.Errorf("supervise: resolve %s: %w", path, err)
	}

	target := abs
	if fi, err := os.Lstat(abs); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		dest, err := os.Readlink(abs)
		if err == nil {
			if !filepath.IsAbs(dest) {
				dest = filepath.Join(filepath.Dir(abs), dest)
			}
			target = dest
		}
	}

	r := resolved{path: abs, dir: filepath.Dir(abs)}

	if isEnvNodeScript(target) {
		node, err := findNode(filepath.Dir(abs), filepath.Dir(target))
		if err != nil {
			return resolved{}, err
		}
		r.path = node
		r.prefixArgs = []string{abs}
	}
	return r, nil
}

// isEnvNodeScript reports whether the file begins with an env-node
// shebang. Only the first 64 bytes are examined.
func isEnvNodeScript(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	head := buf[:n]
	return bytes.HasPrefix(head, []byte("#!/usr/bin/env node")) ||
		bytes.HasPrefix(head, []byte("#!/usr/bin/env -S node"))
}

// findNode locates a node binary, preferring directories near the
// launcher script over the inherited PATH.
func findNode(dirs ...string) (string, error) {
	seen := make(map[string]bool)
	for _, d := range append(dirs, nodeCandidateDirs...) {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		candidate := filepath.Join(d, "node")
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	if p, err := exec.LookPath("node"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("supervise: node interpreter not found for launcher script")
}
