package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/intentops/intent-eval/internal/calibration"
)

// Dispatcher persists calibration alerts and delivers them to the
// configured webhook. It implements calibration.AlertSink.
type Dispatcher struct {
	store      *Store
	webhookURL string
	client     *http.Client
}

// NewDispatcher creates a Dispatcher. An empty webhookURL disables
// delivery; alerts are still persisted.
func NewDispatcher(store *Store, webhookURL string) *Dispatcher {
	return &Dispatcher{
		store:      store,
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enqueue persists a run's alerts and attempts immediate delivery.
// Delivery failures are logged, not returned; the alerts stay pending for
// the next DeliverPending pass.
func (d *Dispatcher) Enqueue(ctx context.Context, runID string, alerts []calibration.Alert) error {
	for _, a := range alerts {
		n := AlertNotification{
			RunID:    runID,
			Severity: string(a.Severity),
			Message:  a.Message,
			Metric:   a.Metric,
		}
		if err := d.store.Create(ctx, n); err != nil {
			return fmt.Errorf("persisting alert: %w", err)
		}
	}

	if err := d.DeliverPending(ctx); err != nil {
		log.Printf("alert delivery failed, will retry: %v", err)
	}
	return nil
}

// DeliverPending posts every undelivered alert to the webhook and marks
// the ones the receiver accepted. Stops at the first transport failure so
// ordering is preserved.
func (d *Dispatcher) DeliverPending(ctx context.Context) error {
	if d.webhookURL == "" {
		return nil
	}

	pending, err := d.store.GetPending(ctx)
	if err != nil {
		return err
	}

	for _, n := range pending {
		if err := d.sendWebhook(ctx, n); err != nil {
			return err
		}
		if err := d.store.MarkDelivered(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) sendWebhook(ctx context.Context, n AlertNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshalling alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
