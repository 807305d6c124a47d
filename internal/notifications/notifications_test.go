package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/intentops/intent-eval/internal/calibration"
	"github.com/intentops/intent-eval/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestCreateAndGetPending(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	metric := 0.62
	if err := store.Create(ctx, AlertNotification{
		RunID:    "run-1",
		Severity: "warning",
		Message:  "intent 20 F1 0.620 is below 0.70",
		Metric:   &metric,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending, err := store.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending alerts, want 1", len(pending))
	}
	n := pending[0]
	if n.ID == "" {
		t.Error("expected generated ID")
	}
	if n.RunID != "run-1" || n.Severity != "warning" {
		t.Errorf("unexpected alert: %+v", n)
	}
	if n.Metric == nil || *n.Metric != 0.62 {
		t.Errorf("metric = %v, want 0.62", n.Metric)
	}

	if err := store.MarkDelivered(ctx, n.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	pending, err = store.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending after delivery: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending alerts after delivery, want 0", len(pending))
	}
}

func TestMarkDeliveredUnknownID(t *testing.T) {
	store := setupStore(t)
	if err := store.MarkDelivered(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestListByRun(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for _, runID := range []string{"run-a", "run-a", "run-b"} {
		if err := store.Create(ctx, AlertNotification{RunID: runID, Severity: "info", Message: "m"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := store.ListByRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d alerts for run-a, want 2", len(got))
	}
}

func TestDispatcherDeliversToWebhook(t *testing.T) {
	store := setupStore(t)

	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n AlertNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("bad webhook payload: %v", err)
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(store, srv.URL)
	alerts := []calibration.Alert{
		{Severity: calibration.SeverityCritical, Message: "intent accuracy 0.700 is below the floor 0.85"},
		{Severity: calibration.SeverityWarning, Message: "expected calibration error 0.200 exceeds 0.15"},
	}
	if err := d.Enqueue(context.Background(), "run-1", alerts); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if got := received.Load(); got != 2 {
		t.Errorf("webhook received %d alerts, want 2", got)
	}

	pending, err := store.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d alerts still pending after delivery", len(pending))
	}
}

func TestDispatcherRetainsUndeliveredOnFailure(t *testing.T) {
	store := setupStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(store, srv.URL)
	alerts := []calibration.Alert{
		{Severity: calibration.SeverityWarning, Message: "something drifted"},
	}
	// Enqueue succeeds even though delivery fails.
	if err := d.Enqueue(context.Background(), "run-1", alerts); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending, err := store.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending alerts, want 1", len(pending))
	}

	// A later pass against a healthy receiver drains the queue.
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	d2 := NewDispatcher(store, ok.URL)
	if err := d2.DeliverPending(context.Background()); err != nil {
		t.Fatalf("DeliverPending: %v", err)
	}
	pending, err = store.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d alerts still pending after retry", len(pending))
	}
}

func TestDispatcherWithoutWebhookOnlyPersists(t *testing.T) {
	store := setupStore(t)
	d := NewDispatcher(store, "")

	alerts := []calibration.Alert{
		{Severity: calibration.SeverityInfo, Message: "informational"},
	}
	if err := d.Enqueue(context.Background(), "run-1", alerts); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending, err := store.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("got %d pending alerts, want 1", len(pending))
	}
}
