package evaluation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/intentops/intent-eval/internal/feedback"
)

const eceBins = 10

// Options parameterizes one evaluation run.
type Options struct {
	// Intents is the known intent vocabulary. Per-intent metrics are
	// reported for each entry even with zero support.
	Intents []string
	// LowConfidenceThreshold counts records below it (default 0.7).
	LowConfidenceThreshold float64
	// OODRate is an externally measured OOD detection rate, carried
	// through to the metrics. Negative means not measured.
	OODRate float64

	WindowStart time.Time
	WindowEnd   time.Time
}

// Evaluate computes Metrics from a snapshot of closed records. Every
// zero-denominator ratio is defined as 0.
func Evaluate(records []feedback.PredictionRecord, opts Options) Metrics {
	if opts.LowConfidenceThreshold == 0 {
		opts.LowConfidenceThreshold = 0.7
	}

	m := Metrics{
		WindowStart:  opts.WindowStart,
		WindowEnd:    opts.WindowEnd,
		TotalRecords: len(records),
		OODRate:      opts.OODRate,
		Confusion:    map[string]map[string]int{},
	}

	var labeled []feedback.PredictionRecord
	for i := range records {
		if records[i].Labeled() {
			labeled = append(labeled, records[i])
		}
	}
	m.LabeledRecords = len(labeled)

	m.IntentAccuracy, m.AccuracySource = intentAccuracy(records, labeled)

	for _, rec := range labeled {
		row := m.Confusion[rec.ActualIntent]
		if row == nil {
			row = map[string]int{}
			m.Confusion[rec.ActualIntent] = row
		}
		row[rec.PredictedIntent]++
	}

	m.PerIntent = perIntentPRF(m.Confusion, opts.Intents)
	m.Slots = slotMetrics(labeled)
	m.ConversionRate = conversionRate(records)
	m.RephraseRate = rephraseRate(records)
	m.ECE = calibrationError(records)
	m.LowConfidenceCount = lowConfidenceCount(records, opts.LowConfidenceThreshold)

	return m
}

// intentAccuracy prefers labeled records; with none it falls back to the
// definite-feedback ratio, excluding UNCERTAIN records.
func intentAccuracy(all, labeled []feedback.PredictionRecord) (float64, AccuracySource) {
	if len(labeled) > 0 {
		correct := 0
		for _, rec := range labeled {
			if rec.PredictedIntent == rec.ActualIntent {
				correct++
			}
		}
		return float64(correct) / float64(len(labeled)), AccuracyFromLabels
	}

	positive, negative := 0, 0
	for _, rec := range all {
		if rec.Feedback == nil {
			continue
		}
		switch rec.Feedback.Signal {
		case feedback.SignalPositive:
			positive++
		case feedback.SignalNegative:
			negative++
		}
	}
	return ratio(positive, positive+negative), AccuracyFromFeedback
}

// perIntentPRF computes precision/recall/F1 for every intent in the
// vocabulary plus any intent observed in the confusion matrix.
func perIntentPRF(confusion map[string]map[string]int, vocabulary []string) map[string]PRF {
	intents := map[string]bool{}
	for _, intent := range vocabulary {
		intents[intent] = true
	}
	for actual, row := range confusion {
		intents[actual] = true
		for predicted := range row {
			intents[predicted] = true
		}
	}

	names := make([]string, 0, len(intents))
	for intent := range intents {
		names = append(names, intent)
	}
	sort.Strings(names)

	out := make(map[string]PRF, len(names))
	for _, intent := range names {
		tp := confusion[intent][intent]

		// Predicted as this intent, over all actual classes.
		predicted := 0
		for _, row := range confusion {
			predicted += row[intent]
		}
		// Actually this intent, over all predictions.
		actual := 0
		for _, n := range confusion[intent] {
			actual += n
		}

		p := ratio(tp, predicted)
		r := ratio(tp, actual)
		out[intent] = PRF{
			Precision: p,
			Recall:    r,
			F1:        harmonicMean(p, r),
			Support:   actual,
		}
	}
	return out
}

// slotMetrics treats each record's slot mapping as a set of (key, value)
// pairs and computes micro-averaged precision/recall/F1 plus the
// exact-match rate, over labeled records.
func slotMetrics(labeled []feedback.PredictionRecord) SlotMetrics {
	var tp, predictedTotal, actualTotal, exact int
	for _, rec := range labeled {
		predictedTotal += len(rec.PredictedSlots)
		actualTotal += len(rec.ActualSlots)

		for k, v := range rec.PredictedSlots {
			if actual, ok := rec.ActualSlots[k]; ok && actual == v {
				tp++
			}
		}

		if slotSetsEqual(rec.PredictedSlots, rec.ActualSlots) {
			exact++
		}
	}

	p := ratio(tp, predictedTotal)
	r := ratio(tp, actualTotal)
	return SlotMetrics{
		MicroPrecision: p,
		MicroRecall:    r,
		MicroF1:        harmonicMean(p, r),
		ExactMatchRate: ratio(exact, len(labeled)),
	}
}

func slotSetsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// conversionRate is computed over records with an observed conversion flag.
func conversionRate(records []feedback.PredictionRecord) float64 {
	observed, converted := 0, 0
	for _, rec := range records {
		if rec.Business == nil || rec.Business.Converted == nil {
			continue
		}
		observed++
		if *rec.Business.Converted {
			converted++
		}
	}
	return ratio(converted, observed)
}

// rephraseRate is the fraction of all input records whose feedback detail
// indicates a rephrase behavior.
func rephraseRate(records []feedback.PredictionRecord) float64 {
	rephrased := 0
	for _, rec := range records {
		if rec.Feedback != nil && strings.Contains(rec.Feedback.Detail, string(feedback.BehaviorRephrase)) {
			rephrased++
		}
	}
	return ratio(rephrased, len(records))
}

// calibrationError buckets records with confidence > 0 into 10 equal-width
// bins and sums the weighted gaps between mean confidence and empirical
// correctness. Records whose correctness is unknowable (no labels and no
// definite signal) are excluded.
func calibrationError(records []feedback.PredictionRecord) float64 {
	type bin struct {
		count         int
		confidenceSum float64
		correct       int
	}
	bins := make([]bin, eceBins)
	total := 0

	for i := range records {
		rec := &records[i]
		if rec.Confidence <= 0 {
			continue
		}
		correct, known := rec.Correct()
		if !known {
			continue
		}

		idx := int(rec.Confidence * eceBins)
		if idx >= eceBins {
			idx = eceBins - 1
		}
		bins[idx].count++
		bins[idx].confidenceSum += rec.Confidence
		if correct {
			bins[idx].correct++
		}
		total++
	}

	if total == 0 {
		return 0
	}

	ece := 0.0
	for _, b := range bins {
		if b.count == 0 {
			continue
		}
		meanConfidence := b.confidenceSum / float64(b.count)
		correctness := float64(b.correct) / float64(b.count)
		weight := float64(b.count) / float64(total)
		ece += weight * math.Abs(meanConfidence-correctness)
	}
	return ece
}

func lowConfidenceCount(records []feedback.PredictionRecord, threshold float64) int {
	n := 0
	for _, rec := range records {
		if rec.Confidence > 0 && rec.Confidence < threshold {
			n++
		}
	}
	return n
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func harmonicMean(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
