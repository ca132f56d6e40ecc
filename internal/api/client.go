package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/platformbuilds/shiftgate/internal/models"
)

// Client calls the admin API of a running controller. Used by the status and
// abort subcommands so operators never talk to the mesh directly.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an admin API client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListRuns fetches every run the controller has started this process lifetime.
func (c *Client) ListRuns(ctx context.Context) ([]models.MigrationRun, error) {
	var payload struct {
		Runs []models.MigrationRun `json:"runs"`
	}
	if err := c.get(ctx, "/api/v1/runs", &payload); err != nil {
		return nil, err
	}
	return payload.Runs, nil
}

// GetRun fetches the most recent run for one service.
func (c *Client) GetRun(ctx context.Context, service string) (models.MigrationRun, error) {
	var run models.MigrationRun
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(service), &run); err != nil {
		return models.MigrationRun{}, err
	}
	return run, nil
}

// Abort requests an operator abort of the in-flight run for a service.
func (c *Client) Abort(ctx context.Context, service string) error {
	endpoint := c.baseURL + "/api/v1/runs/" + url.PathEscape(service) + "/abort"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("build abort request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("abort %s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("abort %s: %s", service, readError(resp))
	}
	return nil
}

// Events fetches the rollback events recorded for a service.
func (c *Client) Events(ctx context.Context, service string) ([]models.RollbackEvent, error) {
	var payload struct {
		Events []models.RollbackEvent `json:"events"`
	}
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(service)+"/events", &payload); err != nil {
		return nil, err
	}
	return payload.Events, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, readError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Sprintf("%s (%s)", payload.Error, resp.Status)
	}
	return resp.Status
}
