package remote

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway is an in-memory Gateway for tests. Calls are recorded in
// order; per-operation error hooks simulate remote failures.
type FakeGateway struct {
	mu sync.Mutex

	nextDatasetID  int
	nextDocumentID int

	// Calls records every invocation as "op:args".
	Calls []string

	CreateDatasetErr  error
	UpdateDatasetErr  error
	DeleteDatasetErr  error
	CreateDocumentErr error
	UpdateDocumentErr error
	DeleteDocumentErr error
	PingErr           error
}

// NewFakeGateway creates an empty fake
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{}
}

func (f *FakeGateway) record(call string) {
	f.Calls = append(f.Calls, call)
}

// CallLog returns a copy of the recorded calls
func (f *FakeGateway) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	copy(out, f.Calls)
	return out
}

func (f *FakeGateway) CreateDataset(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_dataset:" + name)
	if f.CreateDatasetErr != nil {
		return "", f.CreateDatasetErr
	}
	f.nextDatasetID++
	return fmt.Sprintf("rd-%d", f.nextDatasetID), nil
}

func (f *FakeGateway) UpdateDataset(ctx context.Context, remoteID string, fields DatasetFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update_dataset:" + remoteID)
	return f.UpdateDatasetErr
}

func (f *FakeGateway) DeleteDataset(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_dataset:" + remoteID)
	return f.DeleteDatasetErr
}

func (f *FakeGateway) CreateDocument(ctx context.Context, datasetRemoteID string, upload DocumentUpload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_document:" + datasetRemoteID + ":" + upload.Name)
	if f.CreateDocumentErr != nil {
		return "", f.CreateDocumentErr
	}
	f.nextDocumentID++
	return fmt.Sprintf("rdoc-%d", f.nextDocumentID), nil
}

func (f *FakeGateway) UpdateDocument(ctx context.Context, datasetRemoteID, documentRemoteID string, upload DocumentUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update_document:" + datasetRemoteID + ":" + documentRemoteID)
	return f.UpdateDocumentErr
}

func (f *FakeGateway) DeleteDocument(ctx context.Context, datasetRemoteID, documentRemoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_document:" + datasetRemoteID + ":" + documentRemoteID)
	return f.DeleteDocumentErr
}

func (f *FakeGateway) Ping(ctx context.Context) error {
	return f.PingErr
}
