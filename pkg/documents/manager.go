package documents

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/datasets"
	"github.com/peregrinehq/stacks/pkg/faults"
	"github.com/peregrinehq/stacks/pkg/observability"
	"github.com/peregrinehq/stacks/pkg/remote"
)

// Manager owns document lifecycle with the same dual-write ordering as
// the dataset tree, applied at the leaf: remote-first on create and on
// any update that changes content or name, local-first with best-effort
// remote on delete. There is no create-without-file path; upload and
// registration are a single remote call.
type Manager struct {
	db      *sql.DB
	store   *Store
	dsStore *datasets.Store
	acl     *access.Store
	engine  *access.Engine
	gateway remote.Gateway
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewManager creates a document manager
func NewManager(db *sql.DB, store *Store, dsStore *datasets.Store, acl *access.Store, engine *access.Engine, gateway remote.Gateway, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		db:      db,
		store:   store,
		dsStore: dsStore,
		acl:     acl,
		engine:  engine,
		gateway: gateway,
		logger:  logger,
		metrics: metrics,
	}
}

// Create uploads the document to the repository, then inserts the local
// metadata row and the creator's full-access grant in one transaction.
// A remote failure aborts with no local trace.
func (m *Manager) Create(ctx context.Context, creatorID, datasetID int64, name, contentType string, content []byte) (*Document, error) {
	if name == "" {
		return nil, faults.NewValidation("name", "must not be empty")
	}
	if len(content) == 0 {
		return nil, faults.NewValidation("file", "document creation requires file content")
	}

	dataset, err := m.dsStore.Get(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	remoteID, err := m.gateway.CreateDocument(context.WithoutCancel(ctx), dataset.RemoteID, remote.DocumentUpload{
		Name:        name,
		ContentType: contentType,
		Content:     content,
	})
	if err != nil {
		return nil, err
	}

	doc := &Document{
		RemoteID:    remoteID,
		Name:        name,
		ContentType: contentType,
		ByteSize:    int64(len(content)),
		DatasetID:   datasetID,
	}

	if err := m.createLocal(ctx, doc, creatorID); err != nil {
		return nil, m.localFailureAfterRemoteCreate(remoteID, err)
	}

	m.logger.WithFields(map[string]interface{}{
		"document_id": doc.ID,
		"remote_id":   doc.RemoteID,
		"dataset_id":  datasetID,
		"creator_id":  creatorID,
	}).Info("document created")

	return doc, nil
}

// createLocal inserts the document row and the creator's full-access
// grant in one transaction
func (m *Manager) createLocal(ctx context.Context, doc *Document, creatorID int64) (err error) {
	defer func(start time.Time) { m.recordStore("document_create", start, err) }(time.Now())

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err = m.store.InsertTx(ctx, tx, doc); err != nil {
		return err
	}

	grant := &access.Grant{
		ResourceType: access.ResourceDocument,
		ResourceID:   doc.ID,
		UserID:       creatorID,
		CanView:      true,
		CanEdit:      true,
		CanDelete:    true,
	}
	if err = m.acl.UpsertTx(ctx, tx, grant); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}
	return nil
}

// recordStore times one local write phase
func (m *Manager) recordStore(op string, start time.Time, err error) {
	if m.metrics != nil {
		m.metrics.RecordStoreOperation(op, err, time.Since(start))
	}
}

func (m *Manager) localFailureAfterRemoteCreate(remoteID string, err error) error {
	m.logger.WithError(err).WithField("remote_id", remoteID).
		Warn("local write failed after remote document upload, remote record orphaned")
	if m.metrics != nil {
		m.metrics.RecordConsistencyWarning("document")
	}
	return err
}

// Get retrieves a document by id
func (m *Manager) Get(ctx context.Context, id int64) (*Document, error) {
	return m.store.Get(ctx, id)
}

// ListAccessible returns the documents visible to a user, optionally
// scoped to one dataset: all of them for admin tiers, otherwise the
// ones with any ACL flag set.
func (m *Manager) ListAccessible(ctx context.Context, userID int64, datasetID *int64) ([]Document, error) {
	ids, wildcard, err := m.engine.AccessibleResourceIDs(ctx, userID, access.ResourceDocument)
	if err != nil {
		return nil, err
	}
	if wildcard {
		return m.store.List(ctx, datasetID)
	}
	return m.store.ListByIDs(ctx, ids, datasetID)
}

// Update edits document metadata and optionally replaces content. The
// remote round trip only happens when content or the name changes; a
// size-only or type-only edit is purely local. When a remote call is
// needed it goes first, so a remote failure leaves local state
// untouched.
func (m *Manager) Update(ctx context.Context, id int64, req UpdateRequest, content []byte) (*Document, error) {
	doc, datasetRemoteID, err := m.store.GetWithDatasetRemoteID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.hasChanges() && content == nil {
		return doc, nil
	}
	if req.Name != nil && *req.Name == "" {
		return nil, faults.NewValidation("name", "must not be empty")
	}

	newName := doc.Name
	if req.Name != nil {
		newName = *req.Name
	}
	newContentType := doc.ContentType
	if req.ContentType != nil {
		newContentType = *req.ContentType
	}
	newByteSize := doc.ByteSize
	if req.ByteSize != nil {
		newByteSize = *req.ByteSize
	}
	if content != nil {
		newByteSize = int64(len(content))
	}

	needsRemote := content != nil || newName != doc.Name
	if needsRemote {
		upload := remote.DocumentUpload{
			Name:        newName,
			ContentType: newContentType,
			Content:     content,
		}
		if err := m.gateway.UpdateDocument(context.WithoutCancel(ctx), datasetRemoteID, doc.RemoteID, upload); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	err = m.store.Update(ctx, id, newName, newContentType, newByteSize)
	m.recordStore("document_update", start, err)
	if err != nil {
		return nil, err
	}

	doc.Name = newName
	doc.ContentType = newContentType
	doc.ByteSize = newByteSize
	return doc, nil
}

// Delete removes a document locally, then best-effort deletes the
// remote copy. The document's own access rows go in the same
// transaction as the row; a remote failure after commit is downgraded
// to a consistency warning.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	doc, datasetRemoteID, err := m.store.GetWithDatasetRemoteID(ctx, id)
	if err != nil {
		return err
	}

	if err := m.deleteLocal(ctx, id); err != nil {
		return err
	}

	if err := m.gateway.DeleteDocument(context.WithoutCancel(ctx), datasetRemoteID, doc.RemoteID); err != nil {
		warning := &faults.ConsistencyWarning{
			Resource: "document",
			LocalID:  doc.ID,
			RemoteID: doc.RemoteID,
			Err:      err,
		}
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"document_id": doc.ID,
			"remote_id":   doc.RemoteID,
		}).Warn(warning.Error())
		if m.metrics != nil {
			m.metrics.RecordConsistencyWarning("document")
		}
	}

	m.logger.WithField("document_id", id).Info("document deleted")
	return nil
}

func (m *Manager) deleteLocal(ctx context.Context, id int64) (err error) {
	defer func(start time.Time) { m.recordStore("document_delete", start, err) }(time.Now())

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err = m.store.DeleteTx(ctx, tx, id); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document delete: %w", err)
	}
	return nil
}
