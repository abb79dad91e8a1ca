package datasets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/faults"
	"github.com/peregrinehq/stacks/pkg/observability"
	"github.com/peregrinehq/stacks/pkg/remote"
)

// Manager owns the dataset tree and its dual-write ordering policy:
// remote-first on create and update, local-first with best-effort
// remote on delete. A dataset is never visible locally without remote
// backing, but a dataset the user deleted disappears locally even when
// the repository is unreachable, leaving at most an orphaned remote
// record reported as a consistency warning.
type Manager struct {
	db      *sql.DB
	store   *Store
	acl     *access.Store
	engine  *access.Engine
	gateway remote.Gateway
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewManager creates a dataset manager
func NewManager(db *sql.DB, store *Store, acl *access.Store, engine *access.Engine, gateway remote.Gateway, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		db:      db,
		store:   store,
		acl:     acl,
		engine:  engine,
		gateway: gateway,
		logger:  logger,
		metrics: metrics,
	}
}

// Create validates the request, registers the dataset remotely, then
// inserts the local row and the creator's full-access grant in one
// transaction. A remote failure aborts with no local trace, so a
// retried create never sees partial state.
func (m *Manager) Create(ctx context.Context, creatorID int64, name string, parentID *int64) (*Dataset, error) {
	if name == "" {
		return nil, faults.NewValidation("name", "must not be empty")
	}
	if parentID != nil {
		exists, err := m.store.Exists(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, faults.NewValidation("parent_id", fmt.Sprintf("dataset %d does not exist", *parentID))
		}
	}

	// The remote call runs on a detached context: if the caller gives up
	// mid-flight we still learn whether the repository created the
	// dataset, instead of orphaning a remote record we never heard about.
	remoteID, err := m.gateway.CreateDataset(context.WithoutCancel(ctx), name)
	if err != nil {
		return nil, err
	}

	dataset := &Dataset{
		RemoteID: remoteID,
		Name:     name,
		ParentID: parentID,
	}

	if err := m.createLocal(ctx, dataset, creatorID); err != nil {
		return nil, m.localFailureAfterRemoteCreate(remoteID, err)
	}

	m.logger.WithFields(map[string]interface{}{
		"dataset_id": dataset.ID,
		"remote_id":  dataset.RemoteID,
		"creator_id": creatorID,
	}).Info("dataset created")

	return dataset, nil
}

// createLocal inserts the dataset row and the creator's full-access
// grant in one transaction
func (m *Manager) createLocal(ctx context.Context, dataset *Dataset, creatorID int64) (err error) {
	defer func(start time.Time) { m.recordStore("dataset_create", start, err) }(time.Now())

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err = m.store.InsertTx(ctx, tx, dataset); err != nil {
		return err
	}

	grant := &access.Grant{
		ResourceType: access.ResourceDataset,
		ResourceID:   dataset.ID,
		UserID:       creatorID,
		CanView:      true,
		CanEdit:      true,
		CanDelete:    true,
	}
	if err = m.acl.UpsertTx(ctx, tx, grant); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset: %w", err)
	}
	return nil
}

// localFailureAfterRemoteCreate surfaces the known inconsistency window
// on create: the remote dataset exists but the local write failed. No
// compensating remote delete is attempted; the orphan is reported for
// out-of-band reconciliation.
func (m *Manager) localFailureAfterRemoteCreate(remoteID string, err error) error {
	m.logger.WithError(err).WithField("remote_id", remoteID).
		Warn("local write failed after remote dataset create, remote record orphaned")
	if m.metrics != nil {
		m.metrics.RecordConsistencyWarning("dataset")
	}
	return err
}

// Get retrieves a dataset by id
func (m *Manager) Get(ctx context.Context, id int64) (*Dataset, error) {
	return m.store.Get(ctx, id)
}

// ListAccessible returns the datasets visible to a user: all of them
// for admin tiers, otherwise the ones with any ACL flag set.
func (m *Manager) ListAccessible(ctx context.Context, userID int64) ([]Dataset, error) {
	ids, wildcard, err := m.engine.AccessibleResourceIDs(ctx, userID, access.ResourceDataset)
	if err != nil {
		return nil, err
	}
	if wildcard {
		return m.store.List(ctx)
	}
	return m.store.ListByIDs(ctx, ids)
}

// Update renames or re-parents a dataset, remote-first: the repository
// is updated before the local row, so a remote failure leaves the local
// value untouched rather than diverging.
func (m *Manager) Update(ctx context.Context, id int64, req UpdateRequest) (*Dataset, error) {
	dataset, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.hasChanges() {
		return dataset, nil
	}
	if req.Name != nil && *req.Name == "" {
		return nil, faults.NewValidation("name", "must not be empty")
	}
	if req.ParentID != nil && req.ClearParent {
		return nil, faults.NewValidation("parent_id", "cannot set and clear the parent at once")
	}

	newName := dataset.Name
	if req.Name != nil {
		newName = *req.Name
	}

	newParentID := dataset.ParentID
	var fields remote.DatasetFields
	if req.Name != nil {
		fields.Name = req.Name
	}

	switch {
	case req.ClearParent:
		newParentID = nil
		empty := ""
		fields.ParentID = &empty
	case req.ParentID != nil:
		target := *req.ParentID
		if target == id {
			return nil, faults.NewValidation("parent_id", "dataset cannot be its own parent")
		}

		snapshot, err := m.store.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		index := NewIndex(snapshot)

		parent, ok := index.Node(target)
		if !ok {
			return nil, faults.NewValidation("parent_id", fmt.Sprintf("dataset %d does not exist", target))
		}
		if index.IsDescendant(target, id) {
			return nil, faults.NewValidation("parent_id", "cannot move a dataset into its own subtree")
		}

		newParentID = &target
		fields.ParentID = &parent.RemoteID
	}

	if err := m.gateway.UpdateDataset(context.WithoutCancel(ctx), dataset.RemoteID, fields); err != nil {
		return nil, err
	}

	start := time.Now()
	err = m.store.Update(ctx, id, newName, newParentID)
	m.recordStore("dataset_update", start, err)
	if err != nil {
		return nil, err
	}

	dataset.Name = newName
	dataset.ParentID = newParentID
	return dataset, nil
}

// Delete removes a dataset and its entire subtree, depth-first and
// local-before-remote. Each node's documents, access rows and dataset
// row are deleted in a single transaction; only after that commits are
// the corresponding remote deletes attempted, and a remote failure is
// downgraded to a consistency warning because the local deletion the
// user asked for has already happened.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}

	snapshot, err := m.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	index := NewIndex(snapshot)

	for _, node := range index.SubtreePostOrder(id) {
		docs, err := m.deleteNodeLocal(ctx, node.ID)
		if err != nil {
			if faults.IsNotFound(err) {
				// A concurrent delete got here first; nothing left to do
				// for this node.
				continue
			}
			return err
		}

		// Local state is committed; everything from here is best-effort.
		detached := context.WithoutCancel(ctx)
		for _, doc := range docs {
			if err := m.gateway.DeleteDocument(detached, node.RemoteID, doc.RemoteID); err != nil {
				m.warnConsistency("document", doc.ID, doc.RemoteID, err)
			}
		}
		if err := m.gateway.DeleteDataset(detached, node.RemoteID); err != nil {
			m.warnConsistency("dataset", node.ID, node.RemoteID, err)
		}
	}

	m.logger.WithField("dataset_id", id).Info("dataset deleted")
	return nil
}

func (m *Manager) deleteNodeLocal(ctx context.Context, id int64) (docs []DocumentRef, err error) {
	defer func(start time.Time) { m.recordStore("dataset_delete", start, err) }(time.Now())

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	docs, err = m.store.DeleteNodeTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dataset delete: %w", err)
	}
	return docs, nil
}

// recordStore times one local write phase. Remote round trips have
// their own counters in the gateway client.
func (m *Manager) recordStore(op string, start time.Time, err error) {
	if m.metrics != nil {
		m.metrics.RecordStoreOperation(op, err, time.Since(start))
	}
}

func (m *Manager) warnConsistency(resource string, localID int64, remoteID string, err error) {
	warning := &faults.ConsistencyWarning{
		Resource: resource,
		LocalID:  localID,
		RemoteID: remoteID,
		Err:      err,
	}
	m.logger.WithError(err).WithFields(map[string]interface{}{
		"resource":  resource,
		"local_id":  localID,
		"remote_id": remoteID,
	}).Warn(warning.Error())
	if m.metrics != nil {
		m.metrics.RecordConsistencyWarning(resource)
	}
}
