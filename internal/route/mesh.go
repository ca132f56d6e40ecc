package route

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

	"github.com/platformbuilds/shiftgate/internal/models"
)

// MeshStore manipulates traffic splits through the mesh admin API.
type MeshStore struct {
	baseURL    string
	splitPath  string
	httpClient *http.Client
}

// NewMeshStore constructs a store targeting the configured mesh instance.
func NewMeshStore(baseURL, splitPath string, timeout time.Duration) *MeshStore {
	return &MeshStore{
		baseURL:   strings.TrimRight(baseURL, "/"),
		splitPath: splitPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type splitPayload struct {
	Service     string    `json:"service"`
	BlueWeight  int       `json:"blue_weight"`
	GreenWeight int       `json:"green_weight"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetSplit reads the current weight split for a service.
func (s *MeshStore) GetSplit(ctx context.Context, service string) (models.TrafficSplit, error) {
	if s == nil || s.baseURL == "" {
		return models.TrafficSplit{}, fmt.Errorf("mesh store not configured")
	}
	if service == "" {
		return models.TrafficSplit{}, fmt.Errorf("service name is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.splitURL(service), nil)
	if err != nil {
		return models.TrafficSplit{}, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.TrafficSplit{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return models.TrafficSplit{}, fmt.Errorf("%w: mesh returned %s", ErrStoreUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return models.TrafficSplit{}, fmt.Errorf("mesh returned %s for %s", resp.Status, service)
	}

	var payload splitPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.TrafficSplit{}, fmt.Errorf("decode split: %w", err)
	}
	if payload.BlueWeight+payload.GreenWeight != 100 {
		return models.TrafficSplit{}, fmt.Errorf("mesh reported inconsistent split %d/%d for %s",
			payload.BlueWeight, payload.GreenWeight, service)
	}
	return models.TrafficSplit{
		Service:     service,
		BlueWeight:  payload.BlueWeight,
		GreenWeight: payload.GreenWeight,
		UpdatedAt:   payload.UpdatedAt,
	}, nil
}

// SetSplit writes a new blue weight; the green weight is derived so the two
// always sum to 100.
func (s *MeshStore) SetSplit(ctx context.Context, service string, blueWeight int) error {
	if s == nil || s.baseURL == "" {
		return fmt.Errorf("mesh store not configured")
	}
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if blueWeight < 0 || blueWeight > 100 {
		return fmt.Errorf("blue weight %d outside 0..100", blueWeight)
	}

	body, err := json.Marshal(splitPayload{
		Service:     service,
		BlueWeight:  blueWeight,
		GreenWeight: 100 - blueWeight,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal split: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.splitURL(service), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: mesh returned %s", ErrStoreUnavailable, resp.Status)
	default:
		return fmt.Errorf("mesh rejected split for %s: %s", service, resp.Status)
	}
}

func (s *MeshStore) splitURL(service string) string {
	cleaned := "/" + strings.TrimLeft(s.splitPath, "/")
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL + cleaned + "/" + url.PathEscape(service)
	}
	u.Path = path.Join(u.Path, cleaned, service)
	return u.String()
}
