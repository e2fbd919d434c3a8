package utils

import (
	"strings"
	"unicode"
)

// KeySet is an insertion-ordered set of normalized keys.
type KeySet struct {
	fold  bool
	seen  map[string]struct{}
	order []string
}

// NewKeySet creates an empty KeySet. With fold set, keys compare
// case-insensitively.
func NewKeySet(fold bool) *KeySet {
	return &KeySet{fold: fold, seen: make(map[string]struct{})}
}

func (s *KeySet) norm(key string) string {
	key = NormaliseText(key)
	if s.fold {
		key = strings.ToLower(key)
	}
	return key
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key string) bool {
	k := s.norm(key)
	if _, exists := s.seen[k]; exists {
		return false
	}
	s.seen[k] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Contains reports whether the key has been added.
func (s *KeySet) Contains(key string) bool {
	_, exists := s.seen[s.norm(key)]
	return exists
}

// Len returns the number of unique keys tracked.
func (s *KeySet) Len() int { return len(s.order) }

// Values returns the keys in first-seen order, as originally spelled.
func (s *KeySet) Values() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}
