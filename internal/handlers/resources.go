package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/insights"
)

// Mappings dispatches /mappings by method.
func (h *APIHandler) Mappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getMappings(w, r)
	case http.MethodPost:
		h.postMapping(w, r)
	case http.MethodDelete:
		h.deleteMapping(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getMappings handles GET /mappings, grouped by category.
func (h *APIHandler) getMappings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	groups, err := h.mappings.Grouped(r.Context(), userID)
	if err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, map[string]any{"data": groups})
}

type mappingBody struct {
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    int    `json:"priority"`
}

func (h *APIHandler) postMapping(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var body mappingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return
	}
	if body.Description == "" || body.Category == "" {
		http.Error(w, "Missing description or category", http.StatusBadRequest)
		return
	}

	m, err := h.mappings.Upsert(r.Context(), userID, body.Description, body.Category, body.Priority)
	if err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, m)
}

// deleteMapping handles DELETE /mappings?id=<description>.
func (h *APIHandler) deleteMapping(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	if err := h.mappings.Delete(r.Context(), userID, id); err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, map[string]string{"status": "deleted"})
}

// Insights handles GET /insights.
func (h *APIHandler) Insights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	params := insights.Params{
		StartingDate: q.Get("starting_date"),
		EndingDate:   q.Get("ending_date"),
		Categories:   q["categories"],
	}
	var err error
	if params.AllCategories, err = boolParam(q.Get("all_categories")); err != nil {
		http.Error(w, "Invalid all_categories", http.StatusBadRequest)
		return
	}
	if params.ExcludeNegative, err = boolParam(q.Get("exclude_negative")); err != nil {
		http.Error(w, "Invalid exclude_negative", http.StatusBadRequest)
		return
	}
	if params.MonthlyBreakdown, err = boolParam(q.Get("monthlyBreakdown")); err != nil {
		http.Error(w, "Invalid monthlyBreakdown", http.StatusBadRequest)
		return
	}

	periods, err := h.insights.Get(r.Context(), userID, params)
	if err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, map[string]any{"data": periods})
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// Deleted handles GET /deleted: soft-deleted activities, newest first.
func (h *APIHandler) Deleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	rows, err := h.query.Deleted(r.Context(), userID)
	if err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, map[string]any{"data": rows})
}

// FileChecks handles GET /filecheck: the upload ledger of checksum records.
func (h *APIHandler) FileChecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	size, err := intParam(r.URL.Query().Get("size"), 0)
	if err != nil {
		http.Error(w, "Invalid size", http.StatusBadRequest)
		return
	}

	records, err := h.query.FileChecks(r.Context(), userID, size)
	if err != nil {
		writeError(w, userID, err)
		return
	}
	writeJSON(w, userID, map[string]any{"data": records})
}
