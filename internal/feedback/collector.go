package feedback

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intentops/intent-eval/internal/config"
)

var (
	// ErrNotFound means the record is no longer open: it expired or was
	// already finalized and flushed. Callers should treat the feedback as
	// dropped, not as a failure.
	ErrNotFound = errors.New("record not found in open cache")

	// ErrBackpressure means the finalize queue is full. The feedback is
	// dropped and will not be incorporated; the caller must not retry in
	// a loop on the serving path.
	ErrBackpressure = errors.New("finalize queue full, feedback dropped")

	// ErrCollectorClosed is returned for operations after Close.
	ErrCollectorClosed = errors.New("collector is closed")
)

// expiryDetail is the feedback detail attached to records that never
// received explicit feedback.
const expiryDetail = "no feedback received"

// RecordWriter is the durable sink for closed records. Implemented by
// *Store; faked in tests.
type RecordWriter interface {
	Append(ctx context.Context, records []PredictionRecord) error
}

// openRecord wraps a cache-resident record with its finalization state.
// finalized means a finalization event has committed and the id is in the
// drain queue; the entry stays in the cache until the drainer removes it.
type openRecord struct {
	rec       PredictionRecord
	finalized bool
}

// deadlineEntry is one (deadline, id) pair in the expiry heap.
type deadlineEntry struct {
	deadline time.Time
	id       string
}

// deadlineHeap is a min-heap ordered by deadline. One heap and one polling
// goroutine replace a timer per open record.
type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)         { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Collector reconciles predictions with feedback that arrives at arbitrary,
// unordered, much-later times. All entry points return in bounded time;
// the single drain goroutine owns every store write.
type Collector struct {
	cfg   config.CollectorConfig
	store RecordWriter

	mu        sync.Mutex
	cache     map[string]*openRecord
	deadlines deadlineHeap
	closed    bool

	finalizeCh chan string
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewCollector creates a Collector and starts its expiry poller and drain
// goroutine. Call Close to drain remaining open records on shutdown.
func NewCollector(store RecordWriter, cfg config.CollectorConfig) *Collector {
	if cfg.ExpiryPollInterval <= 0 {
		cfg.ExpiryPollInterval = time.Second
	}
	c := &Collector{
		cfg:        cfg,
		store:      store,
		cache:      make(map[string]*openRecord),
		finalizeCh: make(chan string, cfg.QueueSize),
		done:       make(chan struct{}),
	}

	c.wg.Add(2)
	go c.pollExpiry()
	go c.drain()

	return c
}

// RecordPrediction inserts an open record keyed by its identifier and
// schedules its expiry. The identifier is returned immediately; no I/O
// happens on this path.
func (c *Collector) RecordPrediction(rec PredictionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrCollectorClosed
	}

	c.cache[rec.ID] = &openRecord{rec: rec}
	heap.Push(&c.deadlines, deadlineEntry{
		deadline: rec.CreatedAt.Add(c.cfg.ExpiryHorizon),
		id:       rec.ID,
	})
	return rec.ID, nil
}

// OpenCount returns the number of records currently held in the cache,
// including finalized ones awaiting drain.
func (c *Collector) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// CollectBusinessFeedback finalizes a record with the result of the
// downstream API call it triggered.
func (c *Collector) CollectBusinessFeedback(id, apiName string, success bool, errorDetail string) error {
	signal := SignalPositive
	detail := ""
	if !success {
		detail = errorDetail
		if indicatesSlotProblem(errorDetail) {
			signal = SignalNegative
		} else {
			signal = SignalUncertain
		}
	}

	return c.finalize(id, func(rec *PredictionRecord) {
		rec.Business = &BusinessOutcome{APIName: apiName, APISuccess: success}
		rec.Feedback = &Feedback{
			Source: SourceBusinessAPI,
			Signal: signal,
			Detail: detail,
			At:     time.Now().UTC(),
		}
	})
}

// CollectUserBehavior finalizes a record based on what the user did next.
func (c *Collector) CollectUserBehavior(id string, kind BehaviorKind, detail string) error {
	var signal Signal
	conversion := false
	switch kind {
	case BehaviorCompleteFlow:
		signal = SignalPositive
		conversion = true
	case BehaviorRephrase, BehaviorClickRetry:
		signal = SignalNegative
	case BehaviorAbandon:
		signal = SignalUncertain
	default:
		return errors.New("unknown behavior kind: " + string(kind))
	}

	fbDetail := string(kind)
	if detail != "" {
		fbDetail += ": " + detail
	}

	return c.finalize(id, func(rec *PredictionRecord) {
		rec.Feedback = &Feedback{
			Source: SourceUserBehavior,
			Signal: signal,
			Detail: fbDetail,
			At:     time.Now().UTC(),
		}
		if conversion {
			t := true
			if rec.Business == nil {
				rec.Business = &BusinessOutcome{}
			}
			rec.Business.Converted = &t
		}
	})
}

// CollectCrossCheck finalizes a record with the result of an LLM
// consistency check against alternative classifications.
func (c *Collector) CollectCrossCheck(id string, alternativeResults []string, consistencyScore float64) error {
	var signal Signal
	detail := ""
	switch {
	case consistencyScore >= 0.9:
		signal = SignalPositive
	case consistencyScore >= 0.7:
		signal = SignalUncertain
	default:
		signal = SignalNegative
		detail = "disagreeing results: " + strings.Join(alternativeResults, "; ")
	}

	return c.finalize(id, func(rec *PredictionRecord) {
		rec.Feedback = &Feedback{
			Source: SourceLLMCrossCheck,
			Signal: signal,
			Detail: detail,
			At:     time.Now().UTC(),
		}
		if rec.Confidence == 0 {
			rec.Confidence = consistencyScore
		}
	})
}

// finalize runs one finalization event: under the cache mutex it checks the
// record is still open, reserves a queue slot, applies the mutation and
// marks the record closed. The mutation only commits if the queue accepts
// the id, so a backpressure failure leaves the record open for expiry and
// the exactly-once guarantee intact.
func (c *Collector) finalize(id string, apply func(*PredictionRecord)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.cache[id]
	if !ok || o.finalized {
		log.Printf("feedback for %s dropped: record not open (expired or already finalized)", id)
		return ErrNotFound
	}

	select {
	case c.finalizeCh <- id:
	default:
		return ErrBackpressure
	}

	apply(&o.rec)
	o.rec.ClosedAt = time.Now().UTC()
	o.finalized = true
	return nil
}

// expire finalizes a record that reached its horizon without feedback. A
// record concurrently finalized by explicit feedback is left alone. If the
// queue is full the deadline is pushed back one poll interval and retried.
func (c *Collector) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.cache[id]
	if !ok || o.finalized {
		return
	}

	select {
	case c.finalizeCh <- id:
	default:
		heap.Push(&c.deadlines, deadlineEntry{
			deadline: time.Now().Add(c.cfg.ExpiryPollInterval),
			id:       id,
		})
		return
	}

	o.rec.Feedback = &Feedback{
		Signal: SignalUncertain,
		Detail: expiryDetail,
		At:     time.Now().UTC(),
	}
	o.rec.ClosedAt = time.Now().UTC()
	o.finalized = true
}

// pollExpiry pops due deadlines on a fixed tick.
func (c *Collector) pollExpiry() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.ExpiryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			for _, id := range c.dueIDs(time.Now()) {
				c.expire(id)
			}
		}
	}
}

// dueIDs pops every heap entry whose deadline has passed.
func (c *Collector) dueIDs(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []string
	for len(c.deadlines) > 0 && !c.deadlines[0].deadline.After(now) {
		e := heap.Pop(&c.deadlines).(deadlineEntry)
		due = append(due, e.id)
	}
	return due
}

// drain is the single background process that removes finalized records
// from the cache, batches them and flushes to the store. It is the only
// goroutine that writes to storage.
func (c *Collector) drain() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []PredictionRecord

	for {
		select {
		case id := <-c.finalizeCh:
			if rec, ok := c.take(id); ok {
				batch = append(batch, rec)
			}
			if len(batch) >= c.cfg.FlushBatchSize {
				c.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				c.flush(batch)
				batch = nil
			}

		case <-c.done:
			// Drain queued ids, then finalize whatever is still open as
			// expired so every record is flushed exactly once.
			for {
				select {
				case id := <-c.finalizeCh:
					if rec, ok := c.take(id); ok {
						batch = append(batch, rec)
					}
					continue
				default:
				}
				break
			}
			batch = append(batch, c.expireRemaining()...)
			if len(batch) > 0 {
				c.flush(batch)
			}
			return
		}
	}
}

// take removes a finalized record from the cache.
func (c *Collector) take(id string) (PredictionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.cache[id]
	if !ok {
		return PredictionRecord{}, false
	}
	delete(c.cache, id)
	return o.rec, true
}

// expireRemaining closes every record still open at shutdown.
func (c *Collector) expireRemaining() []PredictionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	var out []PredictionRecord
	for id, o := range c.cache {
		if !o.finalized {
			o.rec.Feedback = &Feedback{Signal: SignalUncertain, Detail: expiryDetail, At: now}
			o.rec.ClosedAt = now
		}
		out = append(out, o.rec)
		delete(c.cache, id)
	}
	return out
}

func (c *Collector) flush(batch []PredictionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.store.Append(ctx, batch); err != nil {
		log.Printf("flushing %d records failed: %v", len(batch), err)
		return
	}
	log.Printf("flushed %d closed records", len(batch))
}

// Close stops the background goroutines, finalizing all remaining open
// records as expired and flushing them.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	return nil
}

// indicatesSlotProblem reports whether a downstream API error message
// points at a parameter/slot extraction mistake rather than an unrelated
// failure.
func indicatesSlotProblem(detail string) bool {
	d := strings.ToLower(detail)
	for _, marker := range []string{"slot", "param", "argument", "missing field", "invalid value"} {
		if strings.Contains(d, marker) {
			return true
		}
	}
	return false
}
