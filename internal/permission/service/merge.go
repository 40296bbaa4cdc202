package service

import (
	"bytes"
	"sort"

	"permguard/internal/permission/models"
)

// MergeEffective reduces a subject's records to one entry per (resource,
// action). A user-level record always wins. Between role-level records the
// newest CreatedAt wins, and equal timestamps fall back to the lower role id,
// then the lower record id, so the result never depends on input order.
// Output is sorted by resource then action.
func MergeEffective(records []models.Record) []models.EffectivePermission {
	winners := make(map[models.PermissionKey]models.Record, len(records))
	for _, r := range records {
		cur, ok := winners[r.Key()]
		if !ok || outranks(r, cur) {
			winners[r.Key()] = r
		}
	}

	out := make([]models.EffectivePermission, 0, len(winners))
	for _, r := range winners {
		out = append(out, r.Effective())
	}
	sortEffective(out)
	return out
}

func outranks(a, b models.Record) bool {
	if a.Subject.IsUser() != b.Subject.IsUser() {
		return a.Subject.IsUser()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.Subject.ID != b.Subject.ID {
		return a.Subject.ID < b.Subject.ID
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func sortEffective(perms []models.EffectivePermission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}
