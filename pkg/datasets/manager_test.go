package datasets

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/faults"
	"github.com/peregrinehq/stacks/pkg/observability"
	"github.com/peregrinehq/stacks/pkg/remote"
)

func newTestManager(t *testing.T) (*Manager, *remote.FakeGateway, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gateway := remote.NewFakeGateway()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	manager := NewManager(db, NewStore(db), access.NewStore(db), nil, gateway, logger, nil)
	return manager, gateway, mock, db
}

func datasetRows(t time.Time, datasets ...Dataset) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "remote_id", "name", "parent_id", "created_at", "updated_at"})
	for _, d := range datasets {
		rows.AddRow(d.ID, d.RemoteID, d.Name, d.ParentID, t, t)
	}
	return rows
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("remote create precedes local write", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO datasets`).
			WithArgs("rd-1", "reports", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(`INSERT INTO access_grants`).
			WithArgs(access.ResourceDataset, int64(1), int64(10), true, true, true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		dataset, err := manager.Create(ctx, 10, "reports", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), dataset.ID)
		assert.Equal(t, "rd-1", dataset.RemoteID)
		assert.Equal(t, []string{"create_dataset:reports"}, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("remote failure leaves no local state", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		gateway.CreateDatasetErr = faults.NewRemoteStatus("create_dataset", 503)

		_, err := manager.Create(ctx, 10, "reports", nil)
		require.Error(t, err)
		assert.True(t, faults.IsRemoteSync(err))

		// No transaction was opened, so a retry starts clean.
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty name rejected before any I/O", func(t *testing.T) {
		manager, gateway, _, db := newTestManager(t)
		defer db.Close()

		_, err := manager.Create(ctx, 10, "", nil)
		require.Error(t, err)
		assert.True(t, faults.IsValidation(err))
		assert.Empty(t, gateway.CallLog())
	})

	t.Run("missing parent rejected before the remote call", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		parent := int64(99)
		_, err := manager.Create(ctx, 10, "reports", &parent)
		require.Error(t, err)
		assert.True(t, faults.IsValidation(err))
		assert.Empty(t, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creator gets a full-access grant in the same transaction", func(t *testing.T) {
		manager, _, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO datasets`).
			WithArgs("rd-1", "child", int64Ptr(1), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectQuery(`INSERT INTO access_grants`).
			WithArgs(access.ResourceDataset, int64(2), int64(10), true, true, true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		parent := int64(1)
		dataset, err := manager.Create(ctx, 10, "child", &parent)
		require.NoError(t, err)
		assert.Equal(t, int64(2), dataset.ID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("local failure after remote create surfaces the error", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO datasets`).
			WithArgs("rd-1", "reports", nil, sqlmock.AnyArg()).
			WillReturnError(fmt.Errorf("disk full"))
		mock.ExpectRollback()

		_, err := manager.Create(ctx, 10, "reports", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert dataset")
		// The remote record exists; creation is not compensated.
		assert.Equal(t, []string{"create_dataset:reports"}, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestManager_Update(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("rename is remote-first", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "reports"}))
		mock.ExpectExec(`UPDATE datasets SET name`).
			WithArgs("quarterly", nil, sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		name := "quarterly"
		dataset, err := manager.Update(ctx, 1, UpdateRequest{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "quarterly", dataset.Name)
		assert.Equal(t, []string{"update_dataset:rd-1"}, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("remote failure leaves the local value untouched", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		gateway.UpdateDatasetErr = faults.NewRemoteStatus("update_dataset", 502)

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "reports"}))

		name := "quarterly"
		_, err := manager.Update(ctx, 1, UpdateRequest{Name: &name})
		require.Error(t, err)
		assert.True(t, faults.IsRemoteSync(err))

		// No local UPDATE was expected or executed.
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("re-parent into own subtree is rejected", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "reports"}))
		mock.ExpectQuery(`SELECT id, remote_id, parent_id FROM datasets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "parent_id"}).
				AddRow(1, "rd-1", nil).
				AddRow(2, "rd-2", 1).
				AddRow(3, "rd-3", 2))

		target := int64(3)
		_, err := manager.Update(ctx, 1, UpdateRequest{ParentID: &target})
		require.Error(t, err)
		assert.True(t, faults.IsValidation(err))
		assert.Empty(t, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self-parenting is rejected", func(t *testing.T) {
		manager, _, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "reports"}))

		target := int64(1)
		_, err := manager.Update(ctx, 1, UpdateRequest{ParentID: &target})
		require.Error(t, err)
		assert.True(t, faults.IsValidation(err))
	})

	t.Run("valid re-parent sends the parent's remote id", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(3)).
			WillReturnRows(datasetRows(now, Dataset{ID: 3, RemoteID: "rd-3", Name: "leaf", ParentID: int64Ptr(2)}))
		mock.ExpectQuery(`SELECT id, remote_id, parent_id FROM datasets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "parent_id"}).
				AddRow(1, "rd-1", nil).
				AddRow(2, "rd-2", 1).
				AddRow(3, "rd-3", 2))
		mock.ExpectExec(`UPDATE datasets SET name`).
			WithArgs("leaf", int64Ptr(1), sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		target := int64(1)
		dataset, err := manager.Update(ctx, 3, UpdateRequest{ParentID: &target})
		require.NoError(t, err)
		require.NotNil(t, dataset.ParentID)
		assert.Equal(t, int64(1), *dataset.ParentID)
		assert.Equal(t, []string{"update_dataset:rd-3"}, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no changes is a no-op", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "reports"}))

		dataset, err := manager.Update(ctx, 1, UpdateRequest{})
		require.NoError(t, err)
		assert.Equal(t, "reports", dataset.Name)
		assert.Empty(t, gateway.CallLog())
	})

	t.Run("unknown dataset", func(t *testing.T) {
		manager, _, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		name := "x"
		_, err := manager.Update(ctx, 99, UpdateRequest{Name: &name})
		require.Error(t, err)
		assert.True(t, faults.IsNotFound(err))
	})
}

func TestManager_Delete(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	// The canonical scenario: D1 (rd-1) has child D2 (rd-2) holding one
	// document (rdoc-1). Remote deletes must run in the order rdoc-1,
	// rd-2, rd-1, each after the corresponding local commit.
	t.Run("depth-first, local before remote", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "root"}))
		mock.ExpectQuery(`SELECT id, remote_id, parent_id FROM datasets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "parent_id"}).
				AddRow(1, "rd-1", nil).
				AddRow(2, "rd-2", 1))

		// Node 2 first (depth-first).
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, remote_id FROM documents WHERE dataset_id`).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id"}).AddRow(5, "rdoc-1"))
		mock.ExpectExec(`DELETE FROM access_grants WHERE resource_type = 'document'`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM documents WHERE dataset_id`).
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM access_grants WHERE resource_type = 'dataset'`).
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM datasets WHERE id`).
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		// Then node 1.
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, remote_id FROM documents WHERE dataset_id`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id"}))
		mock.ExpectExec(`DELETE FROM access_grants WHERE resource_type = 'dataset'`).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM datasets WHERE id`).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, manager.Delete(ctx, 1))
		assert.Equal(t, []string{
			"delete_document:rd-2:rdoc-1",
			"delete_dataset:rd-2",
			"delete_dataset:rd-1",
		}, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("remote delete failure is downgraded, operation succeeds", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		gateway.DeleteDatasetErr = faults.NewRemoteStatus("delete_dataset", 503)

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "root"}))
		mock.ExpectQuery(`SELECT id, remote_id, parent_id FROM datasets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "parent_id"}).
				AddRow(1, "rd-1", nil))

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, remote_id FROM documents WHERE dataset_id`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id"}))
		mock.ExpectExec(`DELETE FROM access_grants WHERE resource_type = 'dataset'`).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM datasets WHERE id`).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		// The local delete committed, so the user-facing operation is a
		// success despite the unreachable repository.
		require.NoError(t, manager.Delete(ctx, 1))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent delete of a node is skipped, not fatal", func(t *testing.T) {
		manager, gateway, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "root"}))
		mock.ExpectQuery(`SELECT id, remote_id, parent_id FROM datasets`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "parent_id"}).
				AddRow(1, "rd-1", nil).
				AddRow(2, "rd-2", 1))

		// Node 2 vanished between the snapshot and the delete.
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, remote_id FROM documents WHERE dataset_id`).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id"}))
		mock.ExpectExec(`DELETE FROM access_grants WHERE resource_type = 'dataset'`).
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM datasets WHERE id`).
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, remote_id FROM documents WHERE dataset_id`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id"}))
		mock.ExpectExec(`DELETE FROM access_grants WHERE resource_type = 'dataset'`).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM datasets WHERE id`).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, manager.Delete(ctx, 1))
		// No remote delete for the node that was already gone.
		assert.Equal(t, []string{"delete_dataset:rd-1"}, gateway.CallLog())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown dataset", func(t *testing.T) {
		manager, _, mock, db := newTestManager(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		err := manager.Delete(ctx, 99)
		require.Error(t, err)
		assert.True(t, faults.IsNotFound(err))
	})
}

func TestManager_LocalWriteMetrics(t *testing.T) {
	ctx := context.Background()

	newMeteredManager := func(t *testing.T) (*Manager, *observability.Metrics, sqlmock.Sqlmock, *sql.DB) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)

		metrics := observability.NewMetrics(prometheus.NewRegistry())
		logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
		manager := NewManager(db, NewStore(db), access.NewStore(db), nil, remote.NewFakeGateway(), logger, metrics)
		return manager, metrics, mock, db
	}

	t.Run("successful create counts as success", func(t *testing.T) {
		manager, metrics, mock, db := newMeteredManager(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO datasets`).
			WithArgs("rd-1", "reports", nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(`INSERT INTO access_grants`).
			WithArgs(access.ResourceDataset, int64(1), int64(10), true, true, true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		_, err := manager.Create(ctx, 10, "reports", nil)
		require.NoError(t, err)

		assert.Equal(t, float64(1),
			testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("dataset_create", "success")))
		assert.Equal(t, float64(0),
			testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("dataset_create", "error")))
	})

	t.Run("failed local write counts as error", func(t *testing.T) {
		manager, metrics, mock, db := newMeteredManager(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO datasets`).
			WithArgs("rd-1", "reports", nil, sqlmock.AnyArg()).
			WillReturnError(fmt.Errorf("disk full"))
		mock.ExpectRollback()

		_, err := manager.Create(ctx, 10, "reports", nil)
		require.Error(t, err)

		assert.Equal(t, float64(1),
			testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("dataset_create", "error")))
	})

	t.Run("rename counts an update", func(t *testing.T) {
		manager, metrics, mock, db := newMeteredManager(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(1)).
			WillReturnRows(datasetRows(now, Dataset{ID: 1, RemoteID: "rd-1", Name: "reports"}))
		mock.ExpectExec(`UPDATE datasets SET name`).
			WithArgs("archive", nil, sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		name := "archive"
		_, err := manager.Update(ctx, 1, UpdateRequest{Name: &name})
		require.NoError(t, err)

		assert.Equal(t, float64(1),
			testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("dataset_update", "success")))
	})
}
