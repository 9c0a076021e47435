// Package remote provides the thin HTTP interface to the service of
// record. The sync core depends on it only through the Client
// contract; it never treats remote state as authoritative for local
// reads.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
	"github.com/kerrin-hs/gapday/core/internal/models"
)

// Client is the remote API contract consumed by the sync core.
type Client interface {
	FetchTasks(ctx context.Context) ([]*models.Task, error)
	FetchGaps(ctx context.Context, date string) ([]*models.TimeGap, error)
	CreateTasks(ctx context.Context, tasks []*models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id models.UUID) error
	CreateGaps(ctx context.Context, gaps []*models.TimeGap) error
	UpdateGap(ctx context.Context, gap *models.TimeGap) error
	DeleteGap(ctx context.Context, id models.UUID) error

	GetPreferences(ctx context.Context) (*models.PreferencesDocument, error)
	// PatchPreferences sends a field-level diff with the last-known
	// version as an optimistic-concurrency precondition. A failed
	// precondition yields an error for which IsConflict is true.
	PatchPreferences(ctx context.Context, diff map[string]interface{}, expectedVersion int64) (*models.PreferencesDocument, error)
	// PostPreferences replaces the full document (legacy fallback).
	PostPreferences(ctx context.Context, doc *models.PreferencesDocument) (*models.PreferencesDocument, error)
}

// StatusError is a non-2xx response from the remote service.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Body)
}

// IsConflict reports whether an error signals an optimistic-concurrency
// conflict. Any 409/412-class status or a message containing
// "conflict" is treated identically.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if stderrors.As(err, &se) {
		if se.StatusCode == http.StatusConflict || se.StatusCode == http.StatusPreconditionFailed {
			return true
		}
		return strings.Contains(strings.ToLower(se.Body), "conflict")
	}
	return strings.Contains(strings.ToLower(err.Error()), "conflict")
}

// HTTPClient implements Client over the GapDay REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient for the given base URL. The
// token is sent as a bearer credential on every request.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to encode request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnreachable, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to decode response", err)
		}
	}
	return nil
}

// FetchTasks returns all tasks from the remote service.
func (c *HTTPClient) FetchTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// FetchGaps returns gaps from the remote service; date is optional.
func (c *HTTPClient) FetchGaps(ctx context.Context, date string) ([]*models.TimeGap, error) {
	path := "/gaps"
	if date != "" {
		path += "?date=" + date
	}
	var gaps []*models.TimeGap
	if err := c.do(ctx, http.MethodGet, path, nil, &gaps); err != nil {
		return nil, err
	}
	return gaps, nil
}

// CreateTasks pushes a list of new tasks.
func (c *HTTPClient) CreateTasks(ctx context.Context, tasks []*models.Task) error {
	return c.do(ctx, http.MethodPost, "/tasks", tasks, nil)
}

// UpdateTask pushes a changed task.
func (c *HTTPClient) UpdateTask(ctx context.Context, task *models.Task) error {
	return c.do(ctx, http.MethodPut, "/tasks/"+task.ID.String(), task, nil)
}

// DeleteTask propagates a task deletion.
func (c *HTTPClient) DeleteTask(ctx context.Context, id models.UUID) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+id.String(), nil, nil)
}

// CreateGaps pushes a list of new gaps.
func (c *HTTPClient) CreateGaps(ctx context.Context, gaps []*models.TimeGap) error {
	return c.do(ctx, http.MethodPost, "/gaps", gaps, nil)
}

// UpdateGap pushes a changed gap.
func (c *HTTPClient) UpdateGap(ctx context.Context, gap *models.TimeGap) error {
	return c.do(ctx, http.MethodPut, "/gaps/"+gap.ID.String(), gap, nil)
}

// DeleteGap propagates a gap deletion.
func (c *HTTPClient) DeleteGap(ctx context.Context, id models.UUID) error {
	return c.do(ctx, http.MethodDelete, "/gaps/"+id.String(), nil, nil)
}

// GetPreferences fetches the canonical preferences document.
func (c *HTTPClient) GetPreferences(ctx context.Context) (*models.PreferencesDocument, error) {
	var doc models.PreferencesDocument
	if err := c.do(ctx, http.MethodGet, "/preferences", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// patchRequest is the conditional-update wire shape.
type patchRequest struct {
	Changes         map[string]interface{} `json:"changes"`
	ExpectedVersion int64                  `json:"expected_version"`
}

// PatchPreferences performs the conditional diff update.
func (c *HTTPClient) PatchPreferences(ctx context.Context, diff map[string]interface{}, expectedVersion int64) (*models.PreferencesDocument, error) {
	var doc models.PreferencesDocument
	req := patchRequest{Changes: diff, ExpectedVersion: expectedVersion}
	if err := c.do(ctx, http.MethodPatch, "/preferences", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// PostPreferences replaces the full document (legacy fallback).
func (c *HTTPClient) PostPreferences(ctx context.Context, doc *models.PreferencesDocument) (*models.PreferencesDocument, error) {
	var out models.PreferencesDocument
	if err := c.do(ctx, http.MethodPost, "/preferences", doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
