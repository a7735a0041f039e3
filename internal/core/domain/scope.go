package domain

import "strings"

const scopeWildcard = "*"

// Scope identifies a partition of the document or reminder collection.
// An empty field is a wildcard: Scope{OwnerID: "u-1"} covers every category
// of u-1 and the zero Scope is the admin-wide view.
type Scope struct {
	OwnerID  string `json:"owner_id,omitempty"`
	Category string `json:"category,omitempty"`
}

func AdminScope() Scope { return Scope{} }

func OwnerScope(ownerID string) Scope { return Scope{OwnerID: ownerID} }

func (s Scope) IsAdminWide() bool { return s.OwnerID == "" && s.Category == "" }

// Matches reports whether a record with the given owner and category belongs
// to the scope. Records without a category only match a category wildcard.
func (s Scope) Matches(ownerID, category string) bool {
	if s.OwnerID != "" && s.OwnerID != ownerID {
		return false
	}
	if s.Category != "" && s.Category != category {
		return false
	}
	return true
}

// Key is a stable identifier usable as a map key or log field.
func (s Scope) Key() string {
	owner, category := s.OwnerID, s.Category
	if owner == "" {
		owner = scopeWildcard
	}
	if category == "" {
		category = scopeWildcard
	}
	return owner + "/" + category
}

func (s Scope) String() string { return s.Key() }

func (s Scope) Normalize() Scope {
	return Scope{
		OwnerID:  strings.TrimSpace(s.OwnerID),
		Category: strings.TrimSpace(s.Category),
	}
}
