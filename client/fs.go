package client

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dmora/acpeer"
)

// FS answers the agent's file requests. Implementations receive the
// raw wire params, including the requesting session id.
type FS interface {
	ReadTextFile(ctx context.Context, p acpeer.ReadTextFileParams) (acpeer.ReadTextFileResult, error)
	WriteTextFile(ctx context.Context, p acpeer.WriteTextFileParams) error
}

// LocalFS serves file requests from the local filesystem. Line/limit
// windows select 1-based line ranges.
type LocalFS struct{}

func (LocalFS) ReadTextFile(_ context.Context, p acpeer.ReadTextFileParams) (acpeer.ReadTextFileResult, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return acpeer.ReadTextFileResult{}, fmt.Errorf("read %s: %w", p.Path, err)
	}
	content := string(data)

	if p.Line != nil || p.Limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if p.Line != nil && *p.Line > 1 {
			start = *p.Line - 1
		}
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if p.Limit != nil && *p.Limit >= 0 && start+*p.Limit < end {
			end = start + *p.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return acpeer.ReadTextFileResult{Content: content}, nil
}

func (LocalFS) WriteTextFile(_ context.Context, p acpeer.WriteTextFileParams) error {
	if err := os.WriteFile(p.Path, []byte(p.Content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p.Path, err)
	}
	return nil
}
