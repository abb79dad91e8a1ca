// Package remote wraps the external content repository's HTTP API. Every
// call is a single synchronous round trip with no retry; the dual-write
// ordering policy lives entirely in the dataset and document managers, so
// this package only reports success or a RemoteSyncError and never decides
// how to react to one.
package remote

import "context"

// DatasetFields carries the mutable remote dataset attributes for an
// update call. Nil fields are omitted from the request body.
type DatasetFields struct {
	Name     *string `json:"name,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// DocumentUpload is the payload for a remote document create or update.
// Content may be nil on update when only metadata changed; create always
// requires bytes.
type DocumentUpload struct {
	Name        string
	ContentType string
	Content     []byte
}

// Gateway is the contract to the external content repository.
type Gateway interface {
	// CreateDataset registers a dataset remotely and returns its remote id.
	CreateDataset(ctx context.Context, name string) (string, error)

	// UpdateDataset updates a remote dataset's name or parent.
	UpdateDataset(ctx context.Context, remoteID string, fields DatasetFields) error

	// DeleteDataset removes a remote dataset.
	DeleteDataset(ctx context.Context, remoteID string) error

	// CreateDocument uploads a document under a remote dataset and returns
	// the assigned remote document id.
	CreateDocument(ctx context.Context, datasetRemoteID string, upload DocumentUpload) (string, error)

	// UpdateDocument replaces a remote document's content or metadata.
	UpdateDocument(ctx context.Context, datasetRemoteID, documentRemoteID string, upload DocumentUpload) error

	// DeleteDocument removes a remote document.
	DeleteDocument(ctx context.Context, datasetRemoteID, documentRemoteID string) error

	// Ping probes repository reachability for health checks.
	Ping(ctx context.Context) error
}
