// Package evaluation computes quality metrics over closed prediction
// records. It is pure: no I/O, no shared state, identical inputs always
// produce identical outputs.
package evaluation

import "time"

// AccuracySource says which population intent accuracy was computed from.
type AccuracySource string

const (
	// AccuracyFromLabels means accuracy was computed over records with an
	// authoritative actual intent.
	AccuracyFromLabels AccuracySource = "labeled"
	// AccuracyFromFeedback means no labeled records existed, so accuracy
	// fell back to positive / (positive + negative) over definite feedback
	// signals.
	AccuracyFromFeedback AccuracySource = "feedback"
)

// PRF holds per-intent precision, recall and F1.
type PRF struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	// Support is the number of labeled records with this actual intent.
	Support int `json:"support"`
}

// SlotMetrics holds slot-level quality treating each slot mapping as a set
// of (key, value) pairs.
type SlotMetrics struct {
	MicroPrecision float64 `json:"micro_precision"`
	MicroRecall    float64 `json:"micro_recall"`
	MicroF1        float64 `json:"micro_f1"`
	ExactMatchRate float64 `json:"exact_match_rate"`
}

// Metrics is the aggregate evaluation over a closed set of records for a
// stated time window. Created fresh per run and never mutated after return.
type Metrics struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	TotalRecords   int `json:"total_records"`
	LabeledRecords int `json:"labeled_records"`

	IntentAccuracy float64        `json:"intent_accuracy"`
	AccuracySource AccuracySource `json:"accuracy_source"`

	// PerIntent covers the full configured vocabulary plus any intent
	// observed in labels; absent classes report zeros.
	PerIntent map[string]PRF `json:"per_intent"`

	// Confusion maps actual intent -> predicted intent -> count, built
	// from labeled records only.
	Confusion map[string]map[string]int `json:"confusion"`

	Slots SlotMetrics `json:"slots"`

	ConversionRate float64 `json:"conversion_rate"`
	RephraseRate   float64 `json:"rephrase_rate"`

	// ECE is the expected calibration error over 10 equal-width
	// confidence bins.
	ECE                float64 `json:"ece"`
	LowConfidenceCount int     `json:"low_confidence_count"`

	// OODRate is carried through from the caller; negative means not
	// measured.
	OODRate float64 `json:"ood_rate"`
}
