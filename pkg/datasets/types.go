package datasets

import "time"

// Dataset is a node in the dataset tree, mirrored in the external
// content repository. RemoteID is assigned by the repository at create
// time and never reassigned.
type Dataset struct {
	ID        int64     `json:"id"`
	RemoteID  string    `json:"remote_id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateRequest carries the mutable dataset fields. Nil fields are
// left unchanged.
type UpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	ParentID *int64  `json:"parent_id,omitempty"`

	// ClearParent moves the dataset to the root. Set instead of ParentID;
	// a nil ParentID alone means "leave the parent unchanged".
	ClearParent bool `json:"clear_parent,omitempty"`
}

// hasChanges reports whether the request mutates anything
func (r UpdateRequest) hasChanges() bool {
	return r.Name != nil || r.ParentID != nil || r.ClearParent
}
