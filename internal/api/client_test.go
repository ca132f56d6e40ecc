package api

import (
	"context"
	"testing"
	"time"

	"github.com/platformbuilds/shiftgate/internal/models"
)

func TestClientAgainstAdminServer(t *testing.T) {
	controller := &fakeController{
		runs: []models.MigrationRun{
			{ID: "run-1", Service: "auth", Status: models.RunInProgress, Stages: []int{50, 0}},
		},
		events: map[string][]models.RollbackEvent{
			"auth": {{ID: "evt-1", Service: "auth", ObservedValue: 0.2}},
		},
	}
	server := newTestServer(controller)
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	ctx := context.Background()

	runs, err := client.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Service != "auth" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	run, err := client.GetRun(ctx, "auth")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.ID != "run-1" {
		t.Fatalf("unexpected run %+v", run)
	}

	if err := client.Abort(ctx, "auth"); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	events, err := client.Events(ctx, "auth")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt-1" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	server := newTestServer(&fakeController{})
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.GetRun(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown service")
	}
	if err := client.Abort(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for abort without active run")
	}
}

func TestClientUnreachableServer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := client.ListRuns(context.Background()); err == nil {
		t.Fatal("expected connection error")
	}
}
