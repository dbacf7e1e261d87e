// Package todo is the REST client for the task provider: list lookup and
// task creation, authenticated with a bearer token.
package todo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tasksync/internal/metrics"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

// ListNotFoundError means no list matched the display name exactly.
type ListNotFoundError struct {
	Name string
}

func (e *ListNotFoundError) Error() string {
	return fmt.Sprintf("list not found: %s", e.Name)
}

// APIError is a non-2xx response from the provider API.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s request failed: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Client talks to the provider API. All calls are bounded by the configured
// timeout; a hung request must not block the batch indefinitely.
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type listCollection struct {
	Value []models.TodoList `json:"value"`
}

// ResolveList maps a human-readable list name onto the provider's list id
// with a case-sensitive exact match on displayName. Only the first response
// page is consulted.
func (c *Client) ResolveList(ctx context.Context, name, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lists", nil)
	if err != nil {
		return "", fmt.Errorf("build lists request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req, "lists")
	if err != nil {
		return "", err
	}

	var collection listCollection
	if err := json.Unmarshal(body, &collection); err != nil {
		return "", fmt.Errorf("decode lists response: %w", err)
	}

	for _, list := range collection.Value {
		if list.DisplayName == name {
			return list.ID, nil
		}
	}
	return "", &ListNotFoundError{Name: name}
}

// CreateTask registers one task in the given list.
func (c *Client) CreateTask(ctx context.Context, listID, accessToken string, payload *models.TaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/lists/%s/tasks", c.baseURL, url.PathEscape(listID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build task request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req, "tasks"); err != nil {
		return err
	}
	return nil
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.IncProviderRequest(endpoint, "error")
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	metrics.IncProviderRequest(endpoint, statusClass(resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("provider request failed")
		return nil, &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
