//go:build !windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// shellMetaTokens force the command through sh -c. Two-character
// operators are checked first but any single member is enough.
var shellMetaTokens = []string{"||", "&&", ">>", "|", ";", ">", "<", "$(", "`", "&"}

// fixedPathDirs are tried before falling back to a PATH lookup, so a
// bare program resolves predictably even when the host was launched
// with a stripped PATH.
var fixedPathDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/opt/homebrew/bin",
	"/opt/local/bin",
}

// invocation is a fully resolved exec target.
type invocation struct {
	path string
	args []string
}

func needsShell(command string) bool {
	for _, tok := range shellMetaTokens {
		if strings.Contains(command, tok) {
			return true
		}
	}
	return false
}

// buildInvocation turns the caller's command form into something exec
// can run. Shell syntax goes through sh -c; a bare multi-word command
// with no explicit args is tokenized; a plain program name is resolved
// against the fixed directory list.
func buildInvocation(command string, args []string) (invocation, error) {
	if command == "" {
		return invocation{}, fmt.Errorf("%w: empty command", ErrCommandParse)
	}

	if needsShell(command) {
		line := command
		if len(args) > 0 {
			line += " " + strings.Join(args, " ")
		}
		return invocation{path: "/bin/sh", args: []string{"-c", line}}, nil
	}

	if len(args) == 0 && (strings.ContainsAny(command, " \t") || strings.Contains(command, `"`)) {
		toks, err := tokenize(command)
		if err != nil {
			return invocation{}, err
		}
		if len(toks) == 0 {
			return invocation{}, fmt.Errorf("%w: only whitespace", ErrCommandParse)
		}
		command, args = toks[0], toks[1:]
	}

	path, err := resolveProgram(command)
	if err != nil {
		return invocation{}, err
	}
	return invocation{path: path, args: args}, nil
}

// tokenize splits a command line on whitespace, honoring double-quoted
// substrings and backslash escapes.
func tokenize(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inToken := false
	inQuote := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\':
			if i+1 >= len(line) {
				return nil, fmt.Errorf("%w: trailing backslash", ErrCommandParse)
			}
			i++
			cur.WriteByte(line[i])
			inToken = true
		case c == '"':
			inQuote = !inQuote
			inToken = true
		case (c == ' ' || c == '\t') && !inQuote:
			if inToken {
				toks = append(toks, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quote", ErrCommandParse)
	}
	if inToken {
		toks = append(toks, cur.String())
	}
	return toks, nil
}

// resolveProgram locates a program on disk. Paths with a separator are
// taken as-is; bare names try the fixed directories, then PATH.
func resolveProgram(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
	}
	for _, dir := range fixedPathDirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0
}
