package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// CredentialFile is the durable snapshot of the credential pool: a JSON array
// of strings guarded by an advisory lock file, so the CLI and a running
// service can both mutate it.
type CredentialFile struct {
	path string
	lock *flock.Flock
}

// NewCredentialFile prepares a credential file at path. The file itself is
// created on first write.
func NewCredentialFile(path string) (*CredentialFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("credentials: create dir: %w", err)
	}
	return &CredentialFile{path: path, lock: flock.New(path + ".lock")}, nil
}

func (f *CredentialFile) Path() string { return f.path }

// Load returns the current snapshot.
func (f *CredentialFile) Load() ([]string, error) {
	if err := f.lock.RLock(); err != nil {
		return nil, fmt.Errorf("credentials: lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()
	return f.read()
}

// Update applies fn to the snapshot under an exclusive lock and persists the
// result. It returns what was written.
func (f *CredentialFile) Update(fn func([]string) []string) ([]string, error) {
	if err := f.lock.Lock(); err != nil {
		return nil, fmt.Errorf("credentials: lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	current, err := f.read()
	if err != nil {
		return nil, err
	}
	next := fn(current)
	if next == nil {
		next = []string{}
	}
	if err := f.write(next); err != nil {
		return nil, err
	}
	return next, nil
}

func (f *CredentialFile) read() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read: %w", err)
	}
	var out []string
	if len(data) == 0 {
		return []string{}, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("credentials: decode %s: %w", f.path, err)
	}
	return out, nil
}

func (f *CredentialFile) write(creds []string) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credentials: write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("credentials: replace: %w", err)
	}
	return nil
}
