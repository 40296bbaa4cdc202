package models

import "slices"

// PermissionKey identifies a protectable operation.
type PermissionKey struct {
	Resource string
	Action   Action
}

func (k PermissionKey) String() string {
	return k.Resource + ":" + string(k.Action)
}

// Description is the static declaration of a protectable operation. Values
// are immutable once built; categories are copied in and out.
type Description struct {
	Resource string
	Action   Action
	Text     string

	categories []DataCategory
}

// NewDescription builds a description. Duplicate categories are dropped and
// the remaining ones keep their first-seen order.
func NewDescription(resource string, action Action, text string, categories ...DataCategory) Description {
	var cats []DataCategory
	for _, c := range categories {
		if !slices.Contains(cats, c) {
			cats = append(cats, c)
		}
	}
	return Description{Resource: resource, Action: action, Text: text, categories: cats}
}

// Key returns the identity of d.
func (d Description) Key() PermissionKey {
	return PermissionKey{Resource: d.Resource, Action: d.Action}
}

// DataCategories returns a copy of the declared sensitive-data tags.
func (d Description) DataCategories() []DataCategory {
	return slices.Clone(d.categories)
}

// ContainsPersonalData reports whether any data category is declared.
func (d Description) ContainsPersonalData() bool {
	return len(d.categories) > 0
}
