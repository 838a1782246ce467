// Package roles defines the closed set of access roles that partition the
// document corpus.
package roles

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned by Parse for names outside the role set.
var ErrUnknownRole = errors.New("unknown role")

// Role names a knowledge partition. Every chunk is tagged with exactly one.
type Role string

const (
	Engineering Role = "engineering"
	HR          Role = "hr"
	Finance     Role = "finance"
	Marketing   Role = "marketing"
	General     Role = "general"
)

var all = []Role{Engineering, HR, Finance, Marketing, General}

// All returns every role in a stable order.
func All() []Role {
	out := make([]Role, len(all))
	copy(out, all)
	return out
}

// Parse normalizes s and returns the matching role.
func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range all {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Valid reports whether r belongs to the role set.
func (r Role) Valid() bool {
	for _, known := range all {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }
