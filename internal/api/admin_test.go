package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platformbuilds/shiftgate/internal/engine"
	"github.com/platformbuilds/shiftgate/internal/models"
)

type fakeController struct {
	runs    []models.MigrationRun
	events  map[string][]models.RollbackEvent
	aborted []string
}

func (f *fakeController) Status() []models.MigrationRun {
	return f.runs
}

func (f *fakeController) Run(service string) (models.MigrationRun, error) {
	for i := len(f.runs) - 1; i >= 0; i-- {
		if f.runs[i].Service == service {
			return f.runs[i], nil
		}
	}
	return models.MigrationRun{}, fmt.Errorf("%w: %s", engine.ErrUnknownService, service)
}

func (f *fakeController) Abort(service string) error {
	for _, run := range f.runs {
		if run.Service == service && run.Status == models.RunInProgress {
			f.aborted = append(f.aborted, service)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", engine.ErrNoActiveRun, service)
}

func (f *fakeController) Events(service string) []models.RollbackEvent {
	return f.events[service]
}

func newTestServer(controller MigrationController) *httptest.Server {
	admin := NewAdminServer(":0", controller, nil)
	return httptest.NewServer(admin.Handler())
}

func TestAdminHealthz(t *testing.T) {
	server := newTestServer(&fakeController{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAdminListRuns(t *testing.T) {
	controller := &fakeController{
		runs: []models.MigrationRun{
			{ID: "run-1", Service: "auth", Status: models.RunSucceeded, Stages: []int{50, 0}},
			{ID: "run-2", Service: "payments", Status: models.RunInProgress, Stages: []int{50, 0}},
		},
	}
	server := newTestServer(controller)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/runs")
	if err != nil {
		t.Fatalf("GET /api/v1/runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Runs []models.MigrationRun `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(payload.Runs))
	}
	if payload.Runs[0].Service != "auth" {
		t.Fatalf("unexpected first run %+v", payload.Runs[0])
	}
}

func TestAdminGetRunNotFound(t *testing.T) {
	server := newTestServer(&fakeController{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/runs/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAdminAbort(t *testing.T) {
	controller := &fakeController{
		runs: []models.MigrationRun{
			{ID: "run-1", Service: "auth", Status: models.RunInProgress, Stages: []int{50, 0}},
		},
	}
	server := newTestServer(controller)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/runs/auth/abort", "application/json", nil)
	if err != nil {
		t.Fatalf("POST abort: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(controller.aborted) != 1 || controller.aborted[0] != "auth" {
		t.Fatalf("expected abort recorded, got %+v", controller.aborted)
	}
}

func TestAdminAbortWithoutActiveRunConflicts(t *testing.T) {
	server := newTestServer(&fakeController{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/runs/auth/abort", "application/json", nil)
	if err != nil {
		t.Fatalf("POST abort: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAdminEvents(t *testing.T) {
	controller := &fakeController{
		events: map[string][]models.RollbackEvent{
			"auth": {
				{
					ID:            "evt-1",
					Service:       "auth",
					Trigger:       models.Trigger{Signal: "error_rate"},
					ObservedValue: 0.12,
					Timestamp:     time.Now().UTC(),
				},
			},
		},
	}
	server := newTestServer(controller)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/runs/auth/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Service string                 `json:"service"`
		Events  []models.RollbackEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Events) != 1 || payload.Events[0].Trigger.Signal != "error_rate" {
		t.Fatalf("unexpected events %+v", payload.Events)
	}

	// Unknown services return an empty list, not an error.
	resp2, err := http.Get(server.URL + "/api/v1/runs/other/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
}
