package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDirRepository_ListEnabled(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.rego":    "package x402.constraints\n",
		"a.rego":    "package x402.constraints\n",
		"_off.rego": "package x402.constraints\n",
		"README.md": "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	policies, err := NewDirRepository(dir).ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("len = %d, want 2", len(policies))
	}
	if policies[0].ID != "a.rego" || policies[1].ID != "b.rego" {
		t.Errorf("order = %s, %s", policies[0].ID, policies[1].ID)
	}
}

func TestDirRepository_EmptyDir(t *testing.T) {
	policies, err := NewDirRepository("").ListEnabled(context.Background())
	if err != nil || policies != nil {
		t.Errorf("ListEnabled = %v, %v", policies, err)
	}
	if _, err := NewDirRepository("/nonexistent/policies").ListEnabled(context.Background()); err == nil {
		t.Error("missing dir should fail")
	}
}
