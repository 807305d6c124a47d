package feedback

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// FeedbackKind selects the payload interpretation on the feedback endpoint.
type FeedbackKind string

const (
	KindBusinessResult FeedbackKind = "business_result"
	KindUserBehavior   FeedbackKind = "user_behavior"
	KindCrossCheck     FeedbackKind = "cross_check"
)

type predictionRequest struct {
	Query           string            `json:"query"`
	PredictedIntent string            `json:"predicted_intent"`
	PredictedSlots  map[string]string `json:"predicted_slots"`
	Confidence      float64           `json:"confidence"`
	RetrievedDocs   []RetrievedDoc    `json:"retrieved_docs"`
}

type feedbackRequest struct {
	Kind FeedbackKind `json:"kind"`

	// business_result payload.
	APIName     string `json:"api_name,omitempty"`
	Success     bool   `json:"success,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	// user_behavior payload.
	Behavior BehaviorKind `json:"behavior,omitempty"`
	Detail   string       `json:"detail,omitempty"`

	// cross_check payload.
	AlternativeResults []string `json:"alternative_results,omitempty"`
	ConsistencyScore   float64  `json:"consistency_score,omitempty"`
}

// RegisterRoutes mounts the prediction and feedback endpoints on the given router.
func RegisterRoutes(r chi.Router, collector *Collector) {
	r.Post("/api/predictions", handleRecordPrediction(collector))
	r.Post("/api/feedback/{id}", handleCollectFeedback(collector))
}

func handleRecordPrediction(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req predictionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.Query == "" || req.PredictedIntent == "" {
			http.Error(w, "query and predicted_intent are required", http.StatusBadRequest)
			return
		}
		if req.Confidence < 0 || req.Confidence > 1 {
			http.Error(w, "confidence must be in [0,1]", http.StatusBadRequest)
			return
		}

		id, err := collector.RecordPrediction(PredictionRecord{
			Query:           req.Query,
			PredictedIntent: req.PredictedIntent,
			PredictedSlots:  req.PredictedSlots,
			Confidence:      req.Confidence,
			RetrievedDocs:   req.RetrievedDocs,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"record_id": id})
	}
}

func handleCollectFeedback(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		var err error
		switch req.Kind {
		case KindBusinessResult:
			err = collector.CollectBusinessFeedback(id, req.APIName, req.Success, req.ErrorDetail)
		case KindUserBehavior:
			err = collector.CollectUserBehavior(id, req.Behavior, req.Detail)
		case KindCrossCheck:
			err = collector.CollectCrossCheck(id, req.AlternativeResults, req.ConsistencyScore)
		default:
			http.Error(w, "unknown feedback kind", http.StatusBadRequest)
			return
		}

		switch {
		case errors.Is(err, ErrNotFound):
			// Expected when the record already expired and flushed.
			writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
		case errors.Is(err, ErrBackpressure):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
