package auth

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
)

type storedKey struct {
	principal Principal
	disabled  bool
}

// KeyStore validates API keys against a configured set.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]storedKey
}

// NewKeyStore builds a store from keys.
func NewKeyStore(keys []Key) (*KeyStore, error) {
	s := &KeyStore{}
	if err := s.Replace(keys); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps the key set. On error the previous set stays in place.
func (s *KeyStore) Replace(keys []Key) error {
	next := make(map[[sha256.Size]byte]storedKey, len(keys))
	names := make(map[string]bool, len(keys))

	for i, k := range keys {
		if k.Name == "" {
			return fmt.Errorf("api key %d: name is required", i)
		}
		if names[k.Name] {
			return fmt.Errorf("api key %q: duplicate name", k.Name)
		}
		if k.Key == "" {
			return fmt.Errorf("api key %q: key is required", k.Name)
		}
		role, err := ParseRole(string(k.Role))
		if err != nil {
			return fmt.Errorf("api key %q: %w", k.Name, err)
		}

		digest := sha256.Sum256([]byte(k.Key))
		if _, dup := next[digest]; dup {
			return fmt.Errorf("api key %q: key already assigned to another name", k.Name)
		}
		names[k.Name] = true
		next[digest] = storedKey{principal: Principal{Name: k.Name, Role: role}, disabled: k.Disabled}
	}

	s.mu.Lock()
	s.keys = next
	s.mu.Unlock()
	return nil
}

// Validate returns the principal for key.
func (s *KeyStore) Validate(key string) (*Principal, error) {
	if key == "" {
		return nil, ErrMissingKey
	}

	digest := sha256.Sum256([]byte(key))

	s.mu.RLock()
	stored, ok := s.keys[digest]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidKey
	}
	if stored.disabled {
		return nil, ErrDisabledKey
	}

	p := stored.principal
	return &p, nil
}

// List returns the configured principals sorted by name. Disabled keys are included.
func (s *KeyStore) List() []Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Principal, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k.principal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
