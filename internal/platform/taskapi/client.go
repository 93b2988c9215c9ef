// Package taskapi implements the task store collaborator interface against
// the task service's HTTP API.
package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/domain"
	"github.com/phrazzld/recur-api/internal/store"
)

// Config holds client settings.
type Config struct {
	// BaseURL is the task service root, e.g. http://tasks:8000.
	BaseURL string

	// ServiceToken authenticates this core to the task service.
	ServiceToken string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
}

// Client calls the external task service. The service enforces user_id
// isolation itself; this client always scopes requests by user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.ServiceToken,
		http:    &http.Client{Timeout: timeout},
	}
}

type createTaskResponse struct {
	ID uuid.UUID `json:"id"`
}

// CreateTask creates a task and returns its ID.
func (c *Client) CreateTask(ctx context.Context, spec domain.TaskSpec) (uuid.UUID, error) {
	if err := spec.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal task spec: %w", err)
	}

	url := fmt.Sprintf("%s/internal/users/%s/tasks", c.baseURL, spec.UserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("task creation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return uuid.Nil, statusError("create task", resp)
	}

	var created createTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	return created.ID, nil
}

// GetTask fetches the task's current state.
func (c *Client) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Task, error) {
	url := fmt.Sprintf("%s/internal/users/%s/tasks/%s", c.baseURL, userID, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("task lookup request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get task", resp)
	}

	var task domain.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// SetReminderSent marks the task's reminder as delivered. The task service
// treats the write as idempotent, so marking twice succeeds.
func (c *Client) SetReminderSent(ctx context.Context, userID, taskID uuid.UUID) error {
	url := fmt.Sprintf("%s/internal/users/%s/tasks/%s/reminder-sent", c.baseURL, userID, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reminder flag request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("set reminder sent", resp)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError summarizes an unexpected response without leaking the body
// into error chains unbounded; the first KB is enough to triage.
func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
}

var _ store.TaskStore = (*Client)(nil)
