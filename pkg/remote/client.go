package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/peregrinehq/stacks/pkg/config"
	"github.com/peregrinehq/stacks/pkg/faults"
	"github.com/peregrinehq/stacks/pkg/observability"
)

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *observability.Metrics
}

// NewClient creates a content-repository client. The timeout bounds every
// call; the repository contract itself specifies no retry policy.
func NewClient(cfg config.RemoteConfig, metrics *observability.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: metrics,
	}
}

type datasetCreateResponse struct {
	ID string `json:"id"`
}

type documentCreateResponse struct {
	Document struct {
		ID string `json:"id"`
	} `json:"document"`
}

// CreateDataset registers a dataset remotely and returns its remote id
func (c *Client) CreateDataset(ctx context.Context, name string) (string, error) {
	const op = "create_dataset"

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", faults.NewRemoteSync(op, err)
	}

	resp, err := c.doJSON(ctx, op, http.MethodPost, c.baseURL+"/datasets", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created datasetCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", faults.NewRemoteSync(op, fmt.Errorf("failed to decode response: %w", err))
	}
	if created.ID == "" {
		return "", faults.NewRemoteSync(op, fmt.Errorf("response carried no dataset id"))
	}
	return created.ID, nil
}

// UpdateDataset updates a remote dataset's name or parent
func (c *Client) UpdateDataset(ctx context.Context, remoteID string, fields DatasetFields) error {
	const op = "update_dataset"

	body, err := json.Marshal(fields)
	if err != nil {
		return faults.NewRemoteSync(op, err)
	}

	resp, err := c.doJSON(ctx, op, http.MethodPatch, c.datasetURL(remoteID), body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DeleteDataset removes a remote dataset
func (c *Client) DeleteDataset(ctx context.Context, remoteID string) error {
	const op = "delete_dataset"

	resp, err := c.doJSON(ctx, op, http.MethodDelete, c.datasetURL(remoteID), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// CreateDocument uploads a document and returns its remote id
func (c *Client) CreateDocument(ctx context.Context, datasetRemoteID string, upload DocumentUpload) (string, error) {
	const op = "create_document"

	if len(upload.Content) == 0 {
		return "", faults.NewRemoteSync(op, fmt.Errorf("document upload requires content"))
	}

	resp, err := c.doMultipart(ctx, op, c.datasetURL(datasetRemoteID)+"/documents", upload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created documentCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", faults.NewRemoteSync(op, fmt.Errorf("failed to decode response: %w", err))
	}
	if created.Document.ID == "" {
		return "", faults.NewRemoteSync(op, fmt.Errorf("response carried no document id"))
	}
	return created.Document.ID, nil
}

// UpdateDocument replaces a remote document's content or metadata
func (c *Client) UpdateDocument(ctx context.Context, datasetRemoteID, documentRemoteID string, upload DocumentUpload) error {
	const op = "update_document"

	resp, err := c.doMultipart(ctx, op, c.documentURL(datasetRemoteID, documentRemoteID)+"/update", upload)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DeleteDocument removes a remote document
func (c *Client) DeleteDocument(ctx context.Context, datasetRemoteID, documentRemoteID string) error {
	const op = "delete_document"

	resp, err := c.doJSON(ctx, op, http.MethodDelete, c.documentURL(datasetRemoteID, documentRemoteID), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Ping probes the repository's health endpoint
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doJSON(ctx, "ping", http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) datasetURL(remoteID string) string {
	return c.baseURL + "/datasets/" + url.PathEscape(remoteID)
}

func (c *Client) documentURL(datasetRemoteID, documentRemoteID string) string {
	return c.datasetURL(datasetRemoteID) + "/documents/" + url.PathEscape(documentRemoteID)
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, faults.NewRemoteSync(op, fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(op, req)
}

func (c *Client) doMultipart(ctx context.Context, op, target string, upload DocumentUpload) (*http.Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metadata, err := json.Marshal(map[string]string{
		"name": upload.Name,
		"type": upload.ContentType,
	})
	if err != nil {
		return nil, faults.NewRemoteSync(op, err)
	}
	if err := writer.WriteField("metadata", string(metadata)); err != nil {
		return nil, faults.NewRemoteSync(op, fmt.Errorf("failed to write metadata part: %w", err))
	}

	if upload.Content != nil {
		part, err := writer.CreateFormFile("file", upload.Name)
		if err != nil {
			return nil, faults.NewRemoteSync(op, fmt.Errorf("failed to create file part: %w", err))
		}
		if _, err := part.Write(upload.Content); err != nil {
			return nil, faults.NewRemoteSync(op, fmt.Errorf("failed to write file part: %w", err))
		}
	}

	if err := writer.Close(); err != nil {
		return nil, faults.NewRemoteSync(op, fmt.Errorf("failed to finalize multipart body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, faults.NewRemoteSync(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(op, req)
}

// do executes a request and maps failures into the sync error taxonomy.
// Non-2xx responses become status errors; the body is drained so the
// connection can be reused even on failure.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.recordCall(op, err, duration)
		return nil, faults.NewRemoteSync(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := faults.NewRemoteStatus(op, resp.StatusCode)
		c.recordCall(op, statusErr, duration)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusErr
	}

	c.recordCall(op, nil, duration)
	return resp, nil
}

func (c *Client) recordCall(op string, err error, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordRemoteCall(op, err, duration)
	}
}
