package datasets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/peregrinehq/stacks/pkg/faults"
)

// Store handles dataset persistence. Cascading deletes also touch the
// documents and access_grants tables so a whole node disappears in one
// transaction.
type Store struct {
	db *sql.DB
}

// NewStore creates a new dataset store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const datasetColumns = "id, remote_id, name, parent_id, created_at, updated_at"

// InsertTx inserts a dataset row inside the caller's transaction. The
// remote id must already be assigned; local rows never exist without
// remote backing.
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, dataset *Dataset) error {
	query := `
		INSERT INTO datasets (remote_id, name, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`

	now := time.Now()
	err := tx.QueryRowContext(ctx, query,
		dataset.RemoteID,
		dataset.Name,
		dataset.ParentID,
		now,
	).Scan(&dataset.ID)
	if err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}

	dataset.CreatedAt = now
	dataset.UpdatedAt = now
	return nil
}

// Get retrieves a dataset by local id
func (s *Store) Get(ctx context.Context, id int64) (*Dataset, error) {
	query := fmt.Sprintf("SELECT %s FROM datasets WHERE id = $1", datasetColumns)

	var dataset Dataset
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&dataset.ID,
		&dataset.RemoteID,
		&dataset.Name,
		&dataset.ParentID,
		&dataset.CreatedAt,
		&dataset.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, faults.NewNotFound("dataset", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return &dataset, nil
}

// Exists reports whether a dataset id is present
func (s *Store) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM datasets WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check dataset existence: %w", err)
	}
	return exists, nil
}

// List returns all datasets ordered by id
func (s *Store) List(ctx context.Context) ([]Dataset, error) {
	query := fmt.Sprintf("SELECT %s FROM datasets ORDER BY id ASC", datasetColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	return scanDatasets(rows)
}

// ListByIDs returns the datasets matching the given ids, ordered by id.
// Used for non-admin listings where the caller already holds the set of
// visible ids.
func (s *Store) ListByIDs(ctx context.Context, ids []int64) ([]Dataset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM datasets WHERE id = ANY($1) ORDER BY id ASC", datasetColumns)

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	return scanDatasets(rows)
}

// Update applies name and parent changes to a dataset row
func (s *Store) Update(ctx context.Context, id int64, name string, parentID *int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET name = $1, parent_id = $2, updated_at = $3 WHERE id = $4`,
		name, parentID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if affected == 0 {
		return faults.NewNotFound("dataset", id)
	}
	return nil
}

// Snapshot loads every dataset's tree slice in one query. The manager
// builds an Index from it for subtree and cycle checks.
func (s *Store) Snapshot(ctx context.Context) ([]TreeNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, remote_id, parent_id FROM datasets ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot dataset tree: %w", err)
	}
	defer rows.Close()

	var nodes []TreeNode
	for rows.Next() {
		var node TreeNode
		if err := rows.Scan(&node.ID, &node.RemoteID, &node.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan tree node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// DocumentRef pairs a document's local and remote ids for the
// best-effort remote deletes that follow a local cascade.
type DocumentRef struct {
	ID       int64
	RemoteID string
}

// DeleteNodeTx removes one dataset and everything hanging off it inside
// the caller's transaction: the dataset's documents, those documents'
// access rows, the dataset's own access rows, then the dataset row.
// Children must already be gone; the manager deletes depth-first.
// Returns the remote refs of the deleted documents so the caller can
// issue their remote deletes after commit. Returns sql.ErrNoRows via a
// NotFoundError when the dataset row vanished, which a concurrent
// delete can legitimately cause.
func (s *Store) DeleteNodeTx(ctx context.Context, tx *sql.Tx, id int64) ([]DocumentRef, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, remote_id FROM documents WHERE dataset_id = $1 ORDER BY id ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collect documents: %w", err)
	}

	var docs []DocumentRef
	docIDs := make([]int64, 0)
	for rows.Next() {
		var ref DocumentRef
		if err := rows.Scan(&ref.ID, &ref.RemoteID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document ref: %w", err)
		}
		docs = append(docs, ref)
		docIDs = append(docIDs, ref.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to collect documents: %w", err)
	}

	if len(docIDs) > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM access_grants WHERE resource_type = 'document' AND resource_id = ANY($1)`,
			pq.Array(docIDs),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to delete document access rows: %w", err)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE dataset_id = $1`, id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete documents: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM access_grants WHERE resource_type = 'dataset' AND resource_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete dataset access rows: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to delete dataset: %w", err)
	}
	if affected == 0 {
		return nil, faults.NewNotFound("dataset", id)
	}

	return docs, nil
}

// Count returns the number of datasets, for the business gauge
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count datasets: %w", err)
	}
	return count, nil
}

func scanDatasets(rows *sql.Rows) ([]Dataset, error) {
	var datasets []Dataset
	for rows.Next() {
		var dataset Dataset
		err := rows.Scan(
			&dataset.ID,
			&dataset.RemoteID,
			&dataset.Name,
			&dataset.ParentID,
			&dataset.CreatedAt,
			&dataset.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	return datasets, rows.Err()
}
