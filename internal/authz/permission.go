// Package authz decides whether a caller may perform an operation: dotted
// permission matching, admin override, tenant isolation and a permission
// cache.
package authz

import (
	"errors"
	"fmt"
	"strings"
)

const wildcard = "*"

var errEmptyPermission = errors.New("permission is empty")

// Permission is a parsed, immutable dot-delimited permission such as
// "roles.assign" or "roles.*".
type Permission struct {
	raw      string
	segments []string
}

// Parse splits s into segments. Empty strings and empty segments are
// rejected.
func Parse(s string) (Permission, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Permission{}, errEmptyPermission
	}
	segs := strings.Split(s, ".")
	for i, seg := range segs {
		if seg == "" {
			return Permission{}, fmt.Errorf("permission %q: empty segment at position %d", s, i)
		}
	}
	return Permission{raw: s, segments: segs}, nil
}

// MustParse is Parse for static permissions; it panics on invalid input.
func MustParse(s string) Permission {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseAll parses every entry of perms, skipping invalid ones and returning
// the first parse error alongside the valid permissions.
func ParseAll(perms []string) ([]Permission, error) {
	out := make([]Permission, 0, len(perms))
	var firstErr error
	for _, s := range perms {
		p, err := Parse(s)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, p)
	}
	return out, firstErr
}

func (p Permission) String() string { return p.raw }

// Universal reports whether p is the lone "*" grant.
func (p Permission) Universal() bool {
	return len(p.segments) == 1 && p.segments[0] == wildcard
}

// Grants reports whether p, as a granted permission, satisfies required.
// A "*" segment matches exactly one segment at the same position, so "a.*"
// grants "a.b" but not "a.b.c". Only the lone "*" grants everything.
func (p Permission) Grants(required Permission) bool {
	if p.Universal() {
		return true
	}
	if len(p.segments) == 0 || len(p.segments) != len(required.segments) {
		return false
	}
	for i, seg := range p.segments {
		if seg != wildcard && seg != required.segments[i] {
			return false
		}
	}
	return true
}

// AnyGrants reports whether any of granted satisfies required.
func AnyGrants(granted []Permission, required Permission) bool {
	for _, g := range granted {
		if g.Grants(required) {
			return true
		}
	}
	return false
}
