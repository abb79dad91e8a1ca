package access

import "time"

// ResourceType identifies which kind of resource an ACL row covers
type ResourceType string

const (
	ResourceDataset  ResourceType = "dataset"
	ResourceDocument ResourceType = "document"
)

// Valid reports whether t is a known resource type
func (t ResourceType) Valid() bool {
	return t == ResourceDataset || t == ResourceDocument
}

// Action is a fine-grained operation checked against an ACL row
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	return a == ActionView || a == ActionEdit || a == ActionDelete
}

// Grant is one ACL row: what a single user may do with a single
// resource. A row with all three flags false carries no information
// and is never stored.
type Grant struct {
	ID           int64        `json:"id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   int64        `json:"resource_id"`
	UserID       int64        `json:"user_id"`
	CanView      bool         `json:"can_view"`
	CanEdit      bool         `json:"can_edit"`
	CanDelete    bool         `json:"can_delete"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Allows reports whether the grant covers the given action
func (g *Grant) Allows(action Action) bool {
	switch action {
	case ActionView:
		return g.CanView
	case ActionEdit:
		return g.CanEdit
	case ActionDelete:
		return g.CanDelete
	default:
		return false
	}
}

// Empty reports whether the grant allows nothing
func (g *Grant) Empty() bool {
	return !g.CanView && !g.CanEdit && !g.CanDelete
}
