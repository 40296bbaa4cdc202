// Package directory answers role membership questions for cache fan-out.
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	pstrings "permguard/pkg/platform/strings"
)

// Static is a fixed role directory loaded from configuration. Role names
// match exactly, like stored grants and admin role checks.
type Static struct {
	members map[string][]id.UserID
}

// ParseStatic reads "Role=user1|user2;Other=user3". Repeated roles merge.
func ParseStatic(raw string) (*Static, error) {
	members := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role, users, ok := strings.Cut(entry, "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("role directory entry %q: expected Role=user1|user2", entry))
		}
		members[role] = append(members[role], strings.Split(users, "|")...)
	}

	return newStatic(members), nil
}

type yamlDirectory struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadFile reads a YAML role directory:
//
//	roles:
//	  Sales: [jdoe, asmith]
//	  HR: [mlee]
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role directory: %w", err)
	}
	var doc yamlDirectory
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid role directory file")
	}

	members := make(map[string][]string, len(doc.Roles))
	for role, users := range doc.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "role directory file: empty role name")
		}
		members[role] = append(members[role], users...)
	}
	return newStatic(members), nil
}

func newStatic(members map[string][]string) *Static {
	s := &Static{members: make(map[string][]id.UserID, len(members))}
	for role, users := range members {
		for _, u := range pstrings.DedupeAndTrim(users) {
			s.members[role] = append(s.members[role], id.UserID(u))
		}
	}
	return s
}

// Merge returns a directory with the members of both s and other.
func (s *Static) Merge(other *Static) *Static {
	members := make(map[string][]string, len(s.members)+len(other.members))
	for _, src := range []*Static{s, other} {
		for role, users := range src.members {
			for _, u := range users {
				members[role] = append(members[role], u.String())
			}
		}
	}
	return newStatic(members)
}

// UsersInRole returns the role's members, sorted. Unknown roles have none.
func (s *Static) UsersInRole(ctx context.Context, roleID id.RoleID) ([]id.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users := append([]id.UserID(nil), s.members[roleID.String()]...)
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

var _ ports.Membership = (*Static)(nil)
