package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBackendClientQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var query struct {
			Service       string `json:"service"`
			Signal        string `json:"signal"`
			WindowSeconds int    `json:"window_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			t.Errorf("decode query: %v", err)
		}
		if query.Service != "auth" || query.Signal != "error_rate" {
			t.Errorf("unexpected query %+v", query)
		}
		if query.WindowSeconds != 300 {
			t.Errorf("expected window 300s, got %d", query.WindowSeconds)
		}
		json.NewEncoder(w).Encode(map[string]any{"value": 0.03, "samples": 42})
	}))
	defer server.Close()

	client := NewBackendClient(server.URL, "/api/v1/signal/query", time.Second, 5)
	value, samples, err := client.Query(context.Background(), "auth", "error_rate", 5*time.Minute)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if value != 0.03 || samples != 42 {
		t.Fatalf("unexpected result %g/%d", value, samples)
	}
}

func TestBackendClientInsufficientSamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": 0.9, "samples": 2})
	}))
	defer server.Close()

	client := NewBackendClient(server.URL, "/api/v1/signal/query", time.Second, 5)
	value, samples, err := client.Query(context.Background(), "auth", "error_rate", time.Minute)
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
	// Value and count still surface so callers can log the partial data.
	if value != 0.9 || samples != 2 {
		t.Fatalf("unexpected partial result %g/%d", value, samples)
	}
}

func TestBackendClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewBackendClient(server.URL, "/api/v1/signal/query", time.Second, 5)
	_, _, err := client.Query(context.Background(), "auth", "error_rate", time.Minute)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("server error must not classify as insufficient samples: %v", err)
	}
}

func TestBackendClientRequiresServiceAndSignal(t *testing.T) {
	client := NewBackendClient("http://metrics", "/api/v1/signal/query", time.Second, 5)
	if _, _, err := client.Query(context.Background(), "", "error_rate", time.Minute); err == nil {
		t.Fatal("expected error for empty service")
	}
	if _, _, err := client.Query(context.Background(), "auth", "", time.Minute); err == nil {
		t.Fatal("expected error for empty signal")
	}
}
