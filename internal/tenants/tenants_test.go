package tenants

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTenantsFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write tenants file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTenantsFile(t, `
tenants:
  - id: acme
    name: Acme Contabilidade
  - id: globex
    name: Globex Ltda
`)

	list, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tenants, got %d", len(list))
	}
	if list[0].ID != "acme" || list[1].Name != "Globex Ltda" {
		t.Fatalf("unexpected tenants: %+v", list)
	}
}

func TestLoadRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing id",
			content: `
tenants:
  - name: No Id Inc
`,
		},
		{
			name: "duplicate id",
			content: `
tenants:
  - id: acme
  - id: acme
`,
		},
		{
			name:    "not yaml",
			content: `{{{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTenantsFile(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFileDirectoryReload(t *testing.T) {
	path := writeTenantsFile(t, `
tenants:
  - id: acme
`)

	dir, err := NewFileDirectory(path)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}

	list, err := dir.Tenants(context.Background())
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 tenant, got %d", len(list))
	}

	if err := os.WriteFile(path, []byte(`
tenants:
  - id: acme
  - id: globex
`), 0644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	if err := dir.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	list, err = dir.Tenants(context.Background())
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tenants after reload, got %d", len(list))
	}
}

func TestFileDirectoryReloadKeepsSnapshotOnError(t *testing.T) {
	path := writeTenantsFile(t, `
tenants:
  - id: acme
`)

	dir, err := NewFileDirectory(path)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}

	if err := os.WriteFile(path, []byte("{{{"), 0644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	if err := dir.Reload(); err == nil {
		t.Fatal("expected reload error")
	}

	list, err := dir.Tenants(context.Background())
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if len(list) != 1 || list[0].ID != "acme" {
		t.Fatalf("previous snapshot lost: %+v", list)
	}
}
