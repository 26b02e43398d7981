package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"reckon/internal/domain/matchrule"
)

type RuleHandler struct {
	ruleSvc *matchrule.Service
}

func NewRuleHandler(ruleSvc *matchrule.Service) *RuleHandler {
	return &RuleHandler{ruleSvc: ruleSvc}
}

type createRuleRequest struct {
	Type       matchrule.Type `json:"type"`
	Pattern    string         `json:"pattern"`
	StockID    string         `json:"stockId"`
	Confidence int            `json:"confidence"`
	Priority   int            `json:"priority"`
	CreatedBy  string         `json:"createdBy,omitempty"`
}

// HandleRules serves /api/rules: list on GET, create on POST.
func (h *RuleHandler) HandleRules(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		rules, err := h.ruleSvc.List(r.Context(), companyID, activeOnly)
		if err != nil {
			log.Printf("Error listing rules for company %d: %v", companyID, err)
			http.Error(w, "Failed to list rules", http.StatusInternalServerError)
			return
		}
		if rules == nil {
			rules = []*matchrule.Rule{}
		}
		writeJSON(w, http.StatusOK, rules)

	case http.MethodPost:
		var req createRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		id, err := h.ruleSvc.Add(r.Context(), matchrule.CreateRuleParams{
			CompanyID:  companyID,
			Type:       req.Type,
			Pattern:    req.Pattern,
			StockID:    req.StockID,
			Confidence: req.Confidence,
			Priority:   req.Priority,
			CreatedBy:  req.CreatedBy,
		})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type updateRuleRequest struct {
	Active bool `json:"active"`
}

// HandleRule serves /api/rules/{id}: activate/deactivate on PATCH, delete on
// DELETE.
func (h *RuleHandler) HandleRule(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/rules/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid rule id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req updateRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		h.writeRuleError(w, id, h.ruleSvc.SetActive(r.Context(), companyID, id, req.Active))

	case http.MethodDelete:
		h.writeRuleError(w, id, h.ruleSvc.Delete(r.Context(), companyID, id))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RuleHandler) writeRuleError(w http.ResponseWriter, id int64, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, matchrule.ErrRuleNotFound):
		http.Error(w, "Rule not found", http.StatusNotFound)
	case errors.Is(err, matchrule.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		log.Printf("Error updating rule %d: %v", id, err)
		http.Error(w, "Failed to update rule", http.StatusInternalServerError)
	}
}
