package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/intentops/intent-eval/internal/config"
)

// memWriter collects appended batches in memory.
type memWriter struct {
	mu      sync.Mutex
	records []PredictionRecord
	batches int
}

func (w *memWriter) Append(ctx context.Context, records []PredictionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, records...)
	w.batches++
	return nil
}

func (w *memWriter) all() []PredictionRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]PredictionRecord, len(w.records))
	copy(out, w.records)
	return out
}

func testCollectorConfig() config.CollectorConfig {
	return config.CollectorConfig{
		ExpiryHorizon:      time.Hour,
		ExpiryPollInterval: 5 * time.Millisecond,
		FlushBatchSize:     100,
		FlushInterval:      time.Minute,
		QueueSize:          64,
	}
}

func TestRecordPredictionReturnsID(t *testing.T) {
	w := &memWriter{}
	c := NewCollector(w, testCollectorConfig())
	defer c.Close()

	id, err := c.RecordPrediction(PredictionRecord{Query: "book a flight", PredictedIntent: "20", Confidence: 0.8})
	if err != nil {
		t.Fatalf("RecordPrediction: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty record id")
	}
	if c.OpenCount() != 1 {
		t.Errorf("expected 1 open record, got %d", c.OpenCount())
	}
}

func TestExplicitFeedbackFinalizesOnce(t *testing.T) {
	w := &memWriter{}
	c := NewCollector(w, testCollectorConfig())

	id, _ := c.RecordPrediction(PredictionRecord{Query: "check order status", PredictedIntent: "30", Confidence: 0.9})

	if err := c.CollectBusinessFeedback(id, "order_api", true, ""); err != nil {
		t.Fatalf("CollectBusinessFeedback: %v", err)
	}

	// A second finalization attempt must be a no-op.
	if err := c.CollectUserBehavior(id, BehaviorRephrase, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("second finalization: got %v, want ErrNotFound", err)
	}

	c.Close()

	recs := w.all()
	if len(recs) != 1 {
		t.Fatalf("expected exactly 1 flushed record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Feedback == nil || rec.Feedback.Signal != SignalPositive {
		t.Errorf("expected POSITIVE signal, got %+v", rec.Feedback)
	}
	if rec.Feedback.Source != SourceBusinessAPI {
		t.Errorf("expected BUSINESS_API source, got %q", rec.Feedback.Source)
	}
	if rec.Business == nil || !rec.Business.APISuccess {
		t.Errorf("expected successful business outcome, got %+v", rec.Business)
	}
	if rec.ClosedAt.IsZero() {
		t.Error("expected ClosedAt to be set")
	}
}

func TestBusinessFeedbackSignalMapping(t *testing.T) {
	cases := []struct {
		name    string
		success bool
		detail  string
		want    Signal
	}{
		{"success", true, "", SignalPositive},
		{"slot error", false, "missing required slot: city", SignalNegative},
		{"param error", false, "invalid parameter date", SignalNegative},
		{"unrelated error", false, "upstream timeout", SignalUncertain},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := &memWriter{}
			c := NewCollector(w, testCollectorConfig())

			id, _ := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
			if err := c.CollectBusinessFeedback(id, "api", tc.success, tc.detail); err != nil {
				t.Fatalf("CollectBusinessFeedback: %v", err)
			}
			c.Close()

			recs := w.all()
			if len(recs) != 1 {
				t.Fatalf("expected 1 record, got %d", len(recs))
			}
			if recs[0].Feedback.Signal != tc.want {
				t.Errorf("signal = %q, want %q", recs[0].Feedback.Signal, tc.want)
			}
		})
	}
}

func TestUserBehaviorSignalMapping(t *testing.T) {
	cases := []struct {
		kind       BehaviorKind
		want       Signal
		conversion bool
	}{
		{BehaviorCompleteFlow, SignalPositive, true},
		{BehaviorRephrase, SignalNegative, false},
		{BehaviorClickRetry, SignalNegative, false},
		{BehaviorAbandon, SignalUncertain, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			w := &memWriter{}
			c := NewCollector(w, testCollectorConfig())

			id, _ := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
			if err := c.CollectUserBehavior(id, tc.kind, "detail"); err != nil {
				t.Fatalf("CollectUserBehavior: %v", err)
			}
			c.Close()

			recs := w.all()
			if len(recs) != 1 {
				t.Fatalf("expected 1 record, got %d", len(recs))
			}
			rec := recs[0]
			if rec.Feedback.Signal != tc.want {
				t.Errorf("signal = %q, want %q", rec.Feedback.Signal, tc.want)
			}
			if tc.conversion {
				if rec.Business == nil || rec.Business.Converted == nil || !*rec.Business.Converted {
					t.Errorf("expected conversion flag, got %+v", rec.Business)
				}
			}
		})
	}
}

func TestCrossCheckScoreMapping(t *testing.T) {
	cases := []struct {
		score float64
		want  Signal
	}{
		{0.95, SignalPositive},
		{0.9, SignalPositive},
		{0.75, SignalUncertain},
		{0.5, SignalNegative},
	}

	for _, tc := range cases {
		w := &memWriter{}
		c := NewCollector(w, testCollectorConfig())

		id, _ := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
		if err := c.CollectCrossCheck(id, []string{"intent 20"}, tc.score); err != nil {
			t.Fatalf("CollectCrossCheck(%v): %v", tc.score, err)
		}
		c.Close()

		recs := w.all()
		if len(recs) != 1 {
			t.Fatalf("score %v: expected 1 record, got %d", tc.score, len(recs))
		}
		if recs[0].Feedback.Signal != tc.want {
			t.Errorf("score %v: signal = %q, want %q", tc.score, recs[0].Feedback.Signal, tc.want)
		}
		// Record had no confidence, so the consistency score fills it in.
		if recs[0].Confidence != tc.score {
			t.Errorf("score %v: confidence = %v, want %v", tc.score, recs[0].Confidence, tc.score)
		}
	}
}

func TestCrossCheckKeepsExistingConfidence(t *testing.T) {
	w := &memWriter{}
	c := NewCollector(w, testCollectorConfig())

	id, _ := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10", Confidence: 0.42})
	if err := c.CollectCrossCheck(id, nil, 0.95); err != nil {
		t.Fatalf("CollectCrossCheck: %v", err)
	}
	c.Close()

	recs := w.all()
	if len(recs) != 1 || recs[0].Confidence != 0.42 {
		t.Errorf("expected confidence 0.42 preserved, got %+v", recs)
	}
}

func TestFeedbackForUnknownRecordIsDropped(t *testing.T) {
	w := &memWriter{}
	c := NewCollector(w, testCollectorConfig())
	defer c.Close()

	err := c.CollectBusinessFeedback("no-such-id", "api", true, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestExpiryFinalizesAsUncertain(t *testing.T) {
	cfg := testCollectorConfig()
	cfg.ExpiryHorizon = 20 * time.Millisecond
	cfg.FlushInterval = 10 * time.Millisecond

	w := &memWriter{}
	c := NewCollector(w, cfg)
	defer c.Close()

	c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.all()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	recs := w.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 expired record flushed, got %d", len(recs))
	}
	fb := recs[0].Feedback
	if fb == nil || fb.Signal != SignalUncertain || fb.Detail != "no feedback received" {
		t.Errorf("expected UNCERTAIN expiry feedback, got %+v", fb)
	}
}

func TestExpiryFeedbackRaceFinalizesExactlyOnce(t *testing.T) {
	cfg := testCollectorConfig()
	cfg.ExpiryHorizon = 10 * time.Millisecond
	cfg.ExpiryPollInterval = time.Millisecond
	cfg.FlushInterval = 5 * time.Millisecond

	w := &memWriter{}
	c := NewCollector(w, cfg)

	const n = 50
	ids := make([]string, n)
	for i := range ids {
		ids[i], _ = c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
	}

	// Fire explicit feedback right around the expiry horizon so both
	// finalization paths race. Whichever wins, the store must receive
	// exactly one closed copy per record.
	time.Sleep(cfg.ExpiryHorizon)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.CollectUserBehavior(id, BehaviorCompleteFlow, "")
		}(id)
	}
	wg.Wait()

	c.Close()

	recs := w.all()
	if len(recs) != n {
		t.Fatalf("expected exactly %d flushed records, got %d", n, len(recs))
	}
	seen := make(map[string]int)
	for _, rec := range recs {
		seen[rec.ID]++
		if rec.Feedback == nil {
			t.Errorf("record %s flushed without finalization", rec.ID)
		}
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("record %s flushed %d times", id, count)
		}
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	cfg := testCollectorConfig()
	cfg.FlushBatchSize = 2
	cfg.FlushInterval = time.Minute

	w := &memWriter{}
	c := NewCollector(w, cfg)
	defer c.Close()

	for i := 0; i < 2; i++ {
		id, _ := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
		if err := c.CollectBusinessFeedback(id, "api", true, ""); err != nil {
			t.Fatalf("CollectBusinessFeedback: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.all()) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("batch of 2 not flushed before the interval timer, got %d records", len(w.all()))
}

func TestFlushOnTimer(t *testing.T) {
	cfg := testCollectorConfig()
	cfg.FlushBatchSize = 100
	cfg.FlushInterval = 20 * time.Millisecond

	w := &memWriter{}
	c := NewCollector(w, cfg)
	defer c.Close()

	id, _ := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
	c.CollectBusinessFeedback(id, "api", true, "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.all()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pending batch not flushed by timer, got %d records", len(w.all()))
}

// blockingWriter blocks in Append until released, to saturate the pipeline.
type blockingWriter struct {
	memWriter
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Append(ctx context.Context, records []PredictionRecord) error {
	w.once.Do(func() { close(w.started) })
	<-w.release
	return w.memWriter.Append(ctx, records)
}

func TestBackpressureSurfacesWithoutBlocking(t *testing.T) {
	cfg := testCollectorConfig()
	cfg.QueueSize = 1
	cfg.FlushBatchSize = 1
	cfg.FlushInterval = time.Minute

	w := &blockingWriter{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCollector(w, cfg)

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
		ids = append(ids, id)
	}

	// First finalization is picked up by the drainer, which blocks in Append.
	if err := c.CollectBusinessFeedback(ids[0], "api", true, ""); err != nil {
		t.Fatalf("first feedback: %v", err)
	}
	<-w.started

	// Second fills the queue slot.
	if err := c.CollectBusinessFeedback(ids[1], "api", true, ""); err != nil {
		t.Fatalf("second feedback: %v", err)
	}

	// Third must fail fast with backpressure, not block.
	done := make(chan error, 1)
	go func() { done <- c.CollectBusinessFeedback(ids[2], "api", true, "") }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrBackpressure) {
			t.Errorf("got %v, want ErrBackpressure", err)
		}
	case <-time.After(time.Second):
		t.Fatal("feedback call blocked on a saturated queue")
	}

	close(w.release)
	c.Close()

	// The dropped feedback's record is still finalized (as expired) at
	// shutdown: exactly one copy of every record reaches the store.
	recs := w.all()
	if len(recs) != 3 {
		t.Fatalf("expected 3 records after shutdown drain, got %d", len(recs))
	}
}

func TestCloseDrainsOpenRecords(t *testing.T) {
	w := &memWriter{}
	c := NewCollector(w, testCollectorConfig())

	for i := 0; i < 5; i++ {
		c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"})
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs := w.all()
	if len(recs) != 5 {
		t.Fatalf("expected 5 records drained at shutdown, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Feedback == nil || rec.Feedback.Signal != SignalUncertain {
			t.Errorf("shutdown-drained record should be UNCERTAIN, got %+v", rec.Feedback)
		}
	}

	if _, err := c.RecordPrediction(PredictionRecord{Query: "q", PredictedIntent: "10"}); !errors.Is(err, ErrCollectorClosed) {
		t.Errorf("RecordPrediction after Close: got %v, want ErrCollectorClosed", err)
	}
}
