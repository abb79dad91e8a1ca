package documents

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/peregrinehq/stacks/pkg/faults"
)

// Store handles document metadata persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new document store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const documentColumns = "id, remote_id, name, content_type, byte_size, dataset_id, created_at, updated_at"

// InsertTx inserts a document row inside the caller's transaction
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, doc *Document) error {
	query := `
		INSERT INTO documents (remote_id, name, content_type, byte_size, dataset_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`

	now := time.Now()
	err := tx.QueryRowContext(ctx, query,
		doc.RemoteID,
		doc.Name,
		doc.ContentType,
		doc.ByteSize,
		doc.DatasetID,
		now,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

// Get retrieves a document by local id
func (s *Store) Get(ctx context.Context, id int64) (*Document, error) {
	query := fmt.Sprintf("SELECT %s FROM documents WHERE id = $1", documentColumns)

	var doc Document
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.RemoteID,
		&doc.Name,
		&doc.ContentType,
		&doc.ByteSize,
		&doc.DatasetID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, faults.NewNotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// GetWithDatasetRemoteID retrieves a document along with its dataset's
// remote id, which every remote document call needs for addressing.
func (s *Store) GetWithDatasetRemoteID(ctx context.Context, id int64) (*Document, string, error) {
	query := `
		SELECT d.id, d.remote_id, d.name, d.content_type, d.byte_size, d.dataset_id, d.created_at, d.updated_at,
		       ds.remote_id
		FROM documents d
		JOIN datasets ds ON ds.id = d.dataset_id
		WHERE d.id = $1
	`

	var doc Document
	var datasetRemoteID string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.RemoteID,
		&doc.Name,
		&doc.ContentType,
		&doc.ByteSize,
		&doc.DatasetID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&datasetRemoteID,
	)
	if err == sql.ErrNoRows {
		return nil, "", faults.NewNotFound("document", id)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, datasetRemoteID, nil
}

// List returns all documents, optionally scoped to one dataset
func (s *Store) List(ctx context.Context, datasetID *int64) ([]Document, error) {
	query := fmt.Sprintf("SELECT %s FROM documents", documentColumns)
	var args []interface{}
	if datasetID != nil {
		query += " WHERE dataset_id = $1"
		args = append(args, *datasetID)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListByIDs returns the documents matching the given ids, optionally
// scoped to one dataset. Used for non-admin listings.
func (s *Store) ListByIDs(ctx context.Context, ids []int64, datasetID *int64) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM documents WHERE id = ANY($1)", documentColumns)
	args := []interface{}{pq.Array(ids)}
	if datasetID != nil {
		query += " AND dataset_id = $2"
		args = append(args, *datasetID)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// Update applies metadata changes to a document row
func (s *Store) Update(ctx context.Context, id int64, name, contentType string, byteSize int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET name = $1, content_type = $2, byte_size = $3, updated_at = $4 WHERE id = $5`,
		name, contentType, byteSize, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if affected == 0 {
		return faults.NewNotFound("document", id)
	}
	return nil
}

// DeleteTx removes a document and its access rows inside the caller's
// transaction
func (s *Store) DeleteTx(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM access_grants WHERE resource_type = 'document' AND resource_id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document access rows: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if affected == 0 {
		return faults.NewNotFound("document", id)
	}
	return nil
}

// Count returns the number of documents, for the business gauge
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var doc Document
		err := rows.Scan(
			&doc.ID,
			&doc.RemoteID,
			&doc.Name,
			&doc.ContentType,
			&doc.ByteSize,
			&doc.DatasetID,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
