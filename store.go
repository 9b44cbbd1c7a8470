package fortune

import (
	"strings"
	"sync"
)

// DefaultFortunes are the entries a server starts with.
var DefaultFortunes = []string{
	"You've been leading a dog's life. Stay off the furniture.",
	"Computers are not intelligent. They only think they are.",
}

// Store is an append-only, ordered collection of fortunes shared by every
// connection of a server. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	fortunes []string
}

// NewStore returns a store holding seed, in order.
func NewStore(seed ...string) *Store {
	s := &Store{fortunes: make([]string, 0, len(seed))}
	s.fortunes = append(s.fortunes, seed...)
	return s
}

// NewDefaultStore returns a store seeded with DefaultFortunes.
func NewDefaultStore() *Store {
	return NewStore(DefaultFortunes...)
}

// Append adds text to the end of the store.
func (s *Store) Append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fortunes = append(s.fortunes, text)
}

// Joined returns every stored fortune followed by a newline, in insertion order.
func (s *Store) Joined() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	for _, f := range s.fortunes {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	return b.String()
}

// Snapshot returns a copy of the stored fortunes.
func (s *Store) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.fortunes...)
}

// Len returns the number of stored fortunes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fortunes)
}
