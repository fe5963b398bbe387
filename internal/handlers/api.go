package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/activities"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/ingest"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/insights"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/mappings"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/middleware"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/query"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// APIHandler routes authenticated requests to the activity services.
type APIHandler struct {
	ingest     *ingest.Service
	query      *query.Service
	activities *activities.Service
	mappings   *mappings.Service
	insights   *insights.Reader
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(ing *ingest.Service, q *query.Service, act *activities.Service, m *mappings.Service, ins *insights.Reader) *APIHandler {
	return &APIHandler{ingest: ing, query: q, activities: act, mappings: m, insights: ins}
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, user string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response for user %s: %v", user, err)
	}
}

// writeError hides internals behind a generic message; details go to the log.
func writeError(w http.ResponseWriter, user string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	log.Printf("ERROR: request failed for user %s: %v", user, err)
	http.Error(w, "Internal error, see logs", http.StatusInternalServerError)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

// Activities dispatches /activities by method.
func (h *APIHandler) Activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getActivities(w, r)
	case http.MethodPost:
		h.postActivities(w, r)
	case http.MethodDelete:
		h.deleteActivities(w, r)
	case http.MethodPatch:
		h.patchActivity(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// postActivities handles POST /activities: the body is a raw statement
// export, ?format selects the parser and ?type=preview skips persistence.
func (h *APIHandler) postActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	format := r.URL.Query().Get("format")

	if r.URL.Query().Get("type") == "preview" {
		preview, err := h.ingest.Preview(r.Context(), userID, format, body)
		if err != nil {
			badOrInternal(w, userID, err)
			return
		}
		writeJSON(w, userID, preview)
		return
	}

	commit, err := h.ingest.Commit(r.Context(), userID, format, body)
	if err != nil {
		badOrInternal(w, userID, err)
		return
	}
	writeJSON(w, userID, commit)
}

// badOrInternal maps parse-stage failures to 400 and the rest to 500. A body
// the parser rejects outright is the caller's fault, not ours.
func badOrInternal(w http.ResponseWriter, user string, err error) {
	if errors.Is(err, ingest.ErrBadInput) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeError(w, user, err)
}

func (h *APIHandler) getActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	if sk := q.Get("related"); sk != "" {
		related, err := h.query.Related(r.Context(), userID, sk)
		if err != nil {
			writeError(w, userID, err)
			return
		}
		writeJSON(w, userID, map[string]any{"data": related})
		return
	}

	if empty, err := boolParam(q.Get("emptyDescription")); err != nil {
		http.Error(w, "Invalid emptyDescription", http.StatusBadRequest)
		return
	} else if empty {
		size, err := intParam(q.Get("size"), 10)
		if err != nil {
			http.Error(w, "Invalid size", http.StatusBadRequest)
			return
		}
		rows, err := h.query.EmptyDescription(r.Context(), userID, size)
		if err != nil {
			writeError(w, userID, err)
			return
		}
		writeJSON(w, userID, map[string]any{"data": rows})
		return
	}

	params, err := listParams(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.query.List(r.Context(), userID, *params)
	if err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, result)
}

func listParams(q map[string][]string) (*query.Params, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	size, err := intParam(get("size"), 0)
	if err != nil {
		return nil, errors.New("invalid size")
	}

	p := &query.Params{
		Size:        size,
		NextKey:     get("nextKey"),
		StartDate:   get("startDate"),
		EndDate:     get("endDate"),
		Description: get("description"),
		Account:     get("account"),
		Categories:  q["category"],
	}

	if v := get("amountMin"); v != "" {
		min, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errors.New("invalid amountMin")
		}
		p.AmountMin = &min
	}
	if v := get("amountMax"); v != "" {
		max, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errors.New("invalid amountMax")
		}
		p.AmountMax = &max
	}
	if v := get("exclude"); v != "" {
		exclude, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("invalid exclude")
		}
		p.Exclude = exclude
	}
	if v := get("isDirty"); v != "" {
		dirty, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("invalid isDirty")
		}
		p.IsDirty = &dirty
	}
	return p, nil
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return n, nil
}

// deleteActivities handles DELETE /activities. With ?sk= it soft-deletes one
// activity; without it the whole partition is wiped.
func (h *APIHandler) deleteActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if sk := r.URL.Query().Get("sk"); sk != "" {
		if err := h.activities.SoftDelete(r.Context(), userID, sk); err != nil {
			writeError(w, userID, err)
			return
		}
		writeJSON(w, userID, map[string]string{"status": "deleted"})
		return
	}

	count, err := h.activities.DeleteAll(r.Context(), userID)
	if err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, map[string]int{"deleted": count})
}

func (h *APIHandler) patchActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	sk := r.URL.Query().Get("sk")
	if sk == "" {
		http.Error(w, "Missing sk", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.activities.Patch(r.Context(), userID, sk, body); err != nil {
		if errors.Is(err, activities.ErrBadPatch) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, map[string]string{"status": "patched"})
}
