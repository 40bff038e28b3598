package services

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"carwatch/storage"
)

func newTestPool(t *testing.T, creds ...string) *CredentialPool {
	t.Helper()
	file, err := storage.NewCredentialFile(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatalf("NewCredentialFile: %v", err)
	}
	pool := NewCredentialPool(file)
	for _, c := range creds {
		if _, err := pool.Add(c); err != nil {
			t.Fatalf("Add(%q): %v", c, err)
		}
	}
	return pool
}

func TestCredentialPoolEvict(t *testing.T) {
	pool := newTestPool(t, "cred-a", "cred-b", "cred-c")

	n, err := pool.Evict("cred-b")
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 2 {
		t.Errorf("Evict present: got size %d, want 2", n)
	}

	n, err = pool.Evict("cred-zzz")
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 2 {
		t.Errorf("Evict absent: got size %d, want 2", n)
	}

	got, _ := pool.List()
	if !slices.Equal(got, []string{"cred-a", "cred-c"}) {
		t.Errorf("List: got %v", got)
	}
}

func TestCredentialPoolPick(t *testing.T) {
	pool := newTestPool(t)
	if _, err := pool.Pick(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("Pick on empty pool: got %v, want ErrNoCredentials", err)
	}

	pool = newTestPool(t, "only")
	for range 5 {
		got, err := pool.Pick()
		if err != nil || got != "only" {
			t.Fatalf("Pick: got %q, %v", got, err)
		}
	}
}

func TestCredentialPoolAddDeduplicates(t *testing.T) {
	pool := newTestPool(t, "a")
	if n, _ := pool.Add(" a "); n != 1 {
		t.Errorf("Add duplicate: got size %d, want 1", n)
	}
	if _, err := pool.Add("   "); err == nil {
		t.Error("Add blank: want error")
	}
}

func TestCredentialPoolSeesExternalChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	file, _ := storage.NewCredentialFile(path)
	pool := NewCredentialPool(file)

	other, _ := storage.NewCredentialFile(path)
	if _, err := other.Update(func(cur []string) []string { return append(cur, "from-cli") }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n, _ := pool.Size(); n != 1 {
		t.Errorf("Size after external add: got %d, want 1", n)
	}
}
