package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// BackendClient queries the metrics backend's signal aggregation API.
type BackendClient struct {
	baseURL    string
	queryPath  string
	minSamples int
	httpClient *http.Client
}

// NewBackendClient constructs a client targeting the configured backend.
// Queries reporting fewer than minSamples samples are inconclusive.
func NewBackendClient(baseURL, queryPath string, timeout time.Duration, minSamples int) *BackendClient {
	if minSamples < 1 {
		minSamples = 1
	}
	return &BackendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		queryPath:  queryPath,
		minSamples: minSamples,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Query evaluates a signal selector for a service over the given window.
func (c *BackendClient) Query(ctx context.Context, service, signal string, window time.Duration) (float64, int, error) {
	if c == nil || c.baseURL == "" {
		return 0, 0, fmt.Errorf("metrics backend not configured")
	}
	if service == "" || signal == "" {
		return 0, 0, fmt.Errorf("service and signal are required")
	}

	payload := map[string]interface{}{
		"service":        service,
		"signal":         signal,
		"window_seconds": int(window.Seconds()),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL(), bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("metrics backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("metrics backend returned %s", resp.Status)
	}

	var response struct {
		Value   float64 `json:"value"`
		Samples int     `json:"samples"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, 0, fmt.Errorf("decode query response: %w", err)
	}

	if response.Samples < c.minSamples {
		return response.Value, response.Samples,
			fmt.Errorf("%w: got %d, need %d", ErrInsufficientSamples, response.Samples, c.minSamples)
	}
	return response.Value, response.Samples, nil
}

func (c *BackendClient) queryURL() string {
	cleaned := "/" + strings.TrimLeft(c.queryPath, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}
