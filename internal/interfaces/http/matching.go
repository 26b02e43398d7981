package http

import (
	"encoding/json"
	"log"
	"net/http"

	"reckon/internal/domain/matching"
	"reckon/internal/domain/purchase"
)

type MatchingHandler struct {
	engine     *matching.Engine
	history    matching.HistoryRepository
	suggestCfg matching.SuggestionConfig
}

func NewMatchingHandler(engine *matching.Engine, history matching.HistoryRepository, suggestCfg matching.SuggestionConfig) *MatchingHandler {
	return &MatchingHandler{
		engine:     engine,
		history:    history,
		suggestCfg: suggestCfg,
	}
}

type findMatchesRequest struct {
	Item       purchase.LineItem `json:"item"`
	MaxResults int               `json:"maxResults,omitempty"`
}

// HandleFindMatches returns ranked stock candidates for one line item.
func (h *MatchingHandler) HandleFindMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	companyID, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	var req findMatchesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	candidates, err := h.engine.FindMatches(r.Context(), companyID, req.Item, req.MaxResults)
	if err != nil {
		log.Printf("Error finding matches for company %d: %v", companyID, err)
		http.Error(w, "Failed to find matches", http.StatusInternalServerError)
		return
	}

	// An empty candidate list is a normal outcome, not an error.
	if candidates == nil {
		candidates = []matching.Candidate{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

type saveMatchRequest struct {
	Item       purchase.LineItem `json:"item"`
	StockID    string            `json:"stockId"`
	MatchType  matching.Type     `json:"matchType"`
	Confidence int               `json:"confidence,omitempty"`
	ActorID    string            `json:"actorId,omitempty"`
}

// HandleSaveMatch resolves one line item. A manual match also feeds the rule
// learner.
func (h *MatchingHandler) HandleSaveMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	companyID, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	var req saveMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Item.ID == 0 || req.StockID == "" || req.MatchType == "" {
		http.Error(w, "item.id, stockId and matchType are required", http.StatusBadRequest)
		return
	}

	err := h.engine.SaveMatch(r.Context(), companyID, matching.SaveMatchParams{
		Item:       req.Item,
		StockID:    req.StockID,
		Type:       req.MatchType,
		Confidence: req.Confidence,
		ActorID:    req.ActorID,
	})
	if err != nil {
		log.Printf("Error saving match for item %d: %v", req.Item.ID, err)
		http.Error(w, "Failed to save match", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSuggest computes a non-persisted stock definition for an item with
// no match.
func (h *MatchingHandler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := companyFromRequest(r); !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	var item purchase.LineItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, matching.SuggestNewItem(h.suggestCfg, item))
}

// HandleStats returns match counts grouped by match type.
func (h *MatchingHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	companyID, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	counts, err := h.history.Stats(r.Context(), companyID)
	if err != nil {
		log.Printf("Error querying match stats for company %d: %v", companyID, err)
		http.Error(w, "Failed to query match stats", http.StatusInternalServerError)
		return
	}

	if counts == nil {
		counts = []matching.TypeCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}
