package services

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"carwatch/storage"
)

// ErrNoCredentials means the pool is empty. Callers must not retry.
var ErrNoCredentials = errors.New("credential pool is empty")

// CredentialPool hands out bearer credentials for the contact endpoint and
// permanently evicts the ones that stop working. It re-reads its durable
// snapshot on every call so credentials added from the CLI take effect
// without a restart.
type CredentialPool struct {
	mu   sync.Mutex
	file *storage.CredentialFile
}

func NewCredentialPool(file *storage.CredentialFile) *CredentialPool {
	return &CredentialPool{file: file}
}

// Pick returns a uniformly random credential, or ErrNoCredentials.
func (p *CredentialPool) Pick() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds, err := p.file.Load()
	if err != nil {
		return "", err
	}
	if len(creds) == 0 {
		return "", ErrNoCredentials
	}
	return creds[rand.IntN(len(creds))], nil
}

// Evict removes cred and returns the remaining pool size. Evicting a
// credential that is not in the pool is a no-op.
func (p *CredentialPool) Evict(cred string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := p.file.Update(func(cur []string) []string {
		return slices.DeleteFunc(cur, func(c string) bool { return c == cred })
	})
	if err != nil {
		return 0, err
	}
	return len(next), nil
}

// Add inserts cred unless already present and returns the pool size.
func (p *CredentialPool) Add(cred string) (int, error) {
	cred = strings.TrimSpace(cred)
	if cred == "" {
		return 0, errors.New("empty credential")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := p.file.Update(func(cur []string) []string {
		if slices.Contains(cur, cred) {
			return cur
		}
		return append(cur, cred)
	})
	if err != nil {
		return 0, err
	}
	return len(next), nil
}

// List returns a copy of the pool.
func (p *CredentialPool) List() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Load()
}

// Size returns the number of credentials in the pool.
func (p *CredentialPool) Size() (int, error) {
	creds, err := p.List()
	if err != nil {
		return 0, err
	}
	return len(creds), nil
}
