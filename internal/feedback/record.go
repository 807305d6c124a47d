package feedback

import "time"

// Source identifies where a feedback signal came from.
type Source string

const (
	SourceBusinessAPI   Source = "BUSINESS_API"
	SourceUserBehavior  Source = "USER_BEHAVIOR"
	SourceLLMCrossCheck Source = "LLM_CROSS_CHECK"
	SourceHumanReview   Source = "HUMAN_REVIEW"
)

// Signal is the correctness judgement carried by a feedback event.
type Signal string

const (
	SignalPositive  Signal = "POSITIVE"
	SignalNegative  Signal = "NEGATIVE"
	SignalUncertain Signal = "UNCERTAIN"
)

// BehaviorKind categorises an observed user behavior after a prediction.
type BehaviorKind string

const (
	BehaviorRephrase     BehaviorKind = "rephrase"
	BehaviorClickRetry   BehaviorKind = "click_retry"
	BehaviorCompleteFlow BehaviorKind = "complete_flow"
	BehaviorAbandon      BehaviorKind = "abandon"
)

// RetrievedDoc is one document returned by the serving path's retrieval
// step, kept for offline analysis.
type RetrievedDoc struct {
	Content     string  `json:"content"`
	RerankScore float64 `json:"rerank_score"`
}

// Feedback is the tagged (source, signal, detail) variant attached to a
// record by exactly one finalization event.
type Feedback struct {
	Source Source    `json:"source,omitempty"`
	Signal Signal    `json:"signal"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// BusinessOutcome records what happened downstream of the prediction.
type BusinessOutcome struct {
	APIName    string `json:"api_name,omitempty"`
	APISuccess bool   `json:"api_success"`
	// Converted is whether the user completed the overall business goal.
	// Nil means unobserved.
	Converted *bool `json:"converted,omitempty"`
}

// PredictionRecord is one classifier invocation plus its eventual
// disposition. A record is open (mutable, cache-resident) until exactly one
// finalization event closes it; a closed record is immutable and written to
// the store once.
type PredictionRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`

	Query           string            `json:"query"`
	PredictedIntent string            `json:"predicted_intent"`
	PredictedSlots  map[string]string `json:"predicted_slots,omitempty"`
	Confidence      float64           `json:"confidence"`
	RetrievedDocs   []RetrievedDoc    `json:"retrieved_docs,omitempty"`

	// Ground truth, filled by an authoritative source. Empty ActualIntent
	// means the record is unlabeled.
	ActualIntent string            `json:"actual_intent,omitempty"`
	ActualSlots  map[string]string `json:"actual_slots,omitempty"`

	Feedback *Feedback        `json:"feedback,omitempty"`
	Business *BusinessOutcome `json:"business,omitempty"`
}

// Labeled reports whether an authoritative actual intent is present.
func (r *PredictionRecord) Labeled() bool {
	return r.ActualIntent != ""
}

// Correct reports whether the prediction is known to be correct: the
// actual intent matches when labeled, otherwise a positive feedback signal.
func (r *PredictionRecord) Correct() (correct, known bool) {
	if r.Labeled() {
		return r.ActualIntent == r.PredictedIntent, true
	}
	if r.Feedback == nil {
		return false, false
	}
	switch r.Feedback.Signal {
	case SignalPositive:
		return true, true
	case SignalNegative:
		return false, true
	default:
		return false, false
	}
}
