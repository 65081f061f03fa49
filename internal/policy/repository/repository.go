package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"x402-delegation/backend/internal/policy/domain"
)

// Repository lists the policy modules to compile alongside the built-in rules.
type Repository interface {
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
}

// DirRepository loads every *.rego file in a directory as an enabled policy.
type DirRepository struct {
	dir string
}

// NewDirRepository returns a DirRepository over dir. An empty dir lists nothing.
func NewDirRepository(dir string) *DirRepository {
	return &DirRepository{dir: dir}
}

// ListEnabled reads the directory in name order. Files starting with "_" are disabled.
func (r *DirRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	if r.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var out []*domain.Policy
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".rego") || strings.HasPrefix(name, "_") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", name, err)
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, &domain.Policy{ID: name, Rules: string(b), Enabled: true, CreatedAt: info.ModTime()})
	}
	return out, nil
}
