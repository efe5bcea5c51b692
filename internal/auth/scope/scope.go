// Package scope handles OAuth scope strings: space-delimited, case-sensitive
// tokens (RFC 6749 section 3.3).
package scope

import (
	"errors"
	"sort"
	"strings"
)

var ErrInvalidScope = errors.New("invalid_scope")

// Set is a normalized, duplicate-free, sorted list of scope tokens.
type Set []string

// Parse splits raw on spaces. Empty input yields an empty Set; tokens with
// characters outside RFC 6749 NQCHAR are rejected.
func Parse(raw string) (Set, error) {
	fields := strings.Fields(raw)
	seen := make(map[string]struct{}, len(fields))
	out := make(Set, 0, len(fields))
	for _, f := range fields {
		if !validToken(f) {
			return nil, ErrInvalidScope
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// FromList normalizes an already split list, dropping blanks.
func FromList(values []string) Set {
	set, _ := Parse(strings.Join(values, " "))
	return set
}

func (s Set) String() string {
	return strings.Join(s, " ")
}

func (s Set) Contains(token string) bool {
	i := sort.SearchStrings(s, token)
	return i < len(s) && s[i] == token
}

// SubsetOf reports whether every token in s is present in other.
func (s Set) SubsetOf(other Set) bool {
	for _, token := range s {
		if !other.Contains(token) {
			return false
		}
	}
	return true
}

func (s Set) Empty() bool {
	return len(s) == 0
}

// Equal compares two normalized sets.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func validToken(token string) bool {
	if token == "" {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c == 0x21 || (c >= 0x23 && c <= 0x5B) || (c >= 0x5D && c <= 0x7E) {
			continue
		}
		return false
	}
	return true
}
