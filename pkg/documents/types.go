package documents

import "time"

// Document is a leaf resource belonging to exactly one dataset. The
// file bytes themselves live in the external content repository;
// locally only metadata is kept. RemoteID is assigned at upload time
// and never reassigned.
type Document struct {
	ID          int64     `json:"id"`
	RemoteID    string    `json:"remote_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	DatasetID   int64     `json:"dataset_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpdateRequest carries the mutable document metadata. Nil fields are
// left unchanged. Content is supplied separately to the manager; a
// metadata-only edit that touches neither name nor content skips the
// remote round trip entirely.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	ContentType *string `json:"content_type,omitempty"`
	ByteSize    *int64  `json:"byte_size,omitempty"`
}

func (r UpdateRequest) hasChanges() bool {
	return r.Name != nil || r.ContentType != nil || r.ByteSize != nil
}
