package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/matching"
	"reckon/internal/domain/purchase"
	"reckon/internal/domain/staging"
)

type StagingHandler struct {
	stagingSvc *staging.Service
	engine     *matching.Engine
}

func NewStagingHandler(stagingSvc *staging.Service, engine *matching.Engine) *StagingHandler {
	return &StagingHandler{
		stagingSvc: stagingSvc,
		engine:     engine,
	}
}

// IngestResponse is returned by the ingest endpoint. Exactly one of Staged
// and Duplicate is set.
type IngestResponse struct {
	Staged    *staging.Record  `json:"staged,omitempty"`
	Duplicate *duplicate.Match `json:"duplicate,omitempty"`
}

// HandleIngest accepts an importer's purchase record, runs duplicate
// detection and stages it when it is new.
func (h *StagingHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	companyID, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	var rec purchase.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		log.Printf("Error decoding ingest request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	staged, match, err := h.stagingSvc.Ingest(r.Context(), companyID, &rec)
	if err != nil {
		var verr *purchase.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid purchase record", Problems: verr.Problems})
			return
		}
		if errors.Is(err, staging.ErrAlreadyStaged) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		log.Printf("Error ingesting purchase for company %d: %v", companyID, err)
		http.Error(w, "Failed to ingest purchase", http.StatusInternalServerError)
		return
	}

	if match != nil {
		// The caller decides whether to drop, flag or surface it.
		writeJSON(w, http.StatusConflict, IngestResponse{Duplicate: match})
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{Staged: staged})
}

// HandleStagingRecord dispatches /api/staging/{id} and its sub-resources.
func (h *StagingHandler) HandleStagingRecord(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "Missing or invalid "+CompanyIDHeader, http.StatusUnauthorized)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/staging/")
	parts := strings.Split(rest, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid staging record id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.getRecord(w, r, companyID, id)
		case http.MethodDelete:
			h.deleteRecord(w, r, companyID, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "ready":
		h.readiness(w, r, companyID, id)
	case "complete":
		h.complete(w, r, companyID, id)
	case "error":
		h.markError(w, r, companyID, id)
	case "automatch":
		h.autoMatch(w, r, companyID, id)
	case "status":
		h.transition(w, r, companyID, id)
	case "payments":
		h.allocatePayment(w, r, companyID, id, parts[2:])
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *StagingHandler) getRecord(w http.ResponseWriter, r *http.Request, companyID, id int64) {
	rec, err := h.stagingSvc.Get(r.Context(), companyID, id)
	if err != nil {
		if errors.Is(err, staging.ErrRecordNotFound) {
			http.Error(w, "Staging record not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting staging record %d: %v", id, err)
		http.Error(w, "Failed to get staging record", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *StagingHandler) deleteRecord(w http.ResponseWriter, r *http.Request, companyID, id int64) {
	err := h.stagingSvc.Delete(r.Context(), companyID, id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, staging.ErrRecordNotFound):
		http.Error(w, "Staging record not found", http.StatusNotFound)
	case errors.Is(err, staging.ErrCompletedImmutable):
		http.Error(w, "Completed records cannot be deleted", http.StatusConflict)
	default:
		log.Printf("Error deleting staging record %d: %v", id, err)
		http.Error(w, "Failed to delete staging record", http.StatusInternalServerError)
	}
}

func (h *StagingHandler) readiness(w http.ResponseWriter, r *http.Request, companyID, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rd, err := h.stagingSvc.IsReadyToPost(r.Context(), companyID, id)
	if err != nil {
		if errors.Is(err, staging.ErrRecordNotFound) {
			http.Error(w, "Staging record not found", http.StatusNotFound)
			return
		}
		log.Printf("Error checking readiness of staging record %d: %v", id, err)
		http.Error(w, "Failed to check readiness", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rd)
}

type completeRequest struct {
	TransactionRef string `json:"transactionRef"`
}

func (h *StagingHandler) complete(w http.ResponseWriter, r *http.Request, companyID, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TransactionRef == "" {
		http.Error(w, "transactionRef is required", http.StatusBadRequest)
		return
	}

	err := h.stagingSvc.MarkCompleted(r.Context(), companyID, id, req.TransactionRef)
	if err != nil {
		var gerr *staging.GatingError
		switch {
		case errors.As(err, &gerr):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":               "record is not ready to post",
				"unresolvedItems":     gerr.UnresolvedItems,
				"unallocatedPayments": gerr.UnallocatedPayments,
			})
		case errors.Is(err, staging.ErrRecordNotFound):
			http.Error(w, "Staging record not found", http.StatusNotFound)
		case errors.Is(err, staging.ErrCompletedImmutable), errors.Is(err, staging.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("Error completing staging record %d: %v", id, err)
			http.Error(w, "Failed to complete staging record", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type errorRequest struct {
	Reason string `json:"reason"`
}

func (h *StagingHandler) markError(w http.ResponseWriter, r *http.Request, companyID, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req errorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	err := h.stagingSvc.MarkError(r.Context(), companyID, id, req.Reason)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, staging.ErrRecordNotFound):
		http.Error(w, "Staging record not found", http.StatusNotFound)
	case errors.Is(err, staging.ErrCompletedImmutable), errors.Is(err, staging.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("Error marking staging record %d as errored: %v", id, err)
		http.Error(w, "Failed to update staging record", http.StatusInternalServerError)
	}
}

// autoMatch runs the batch matcher over the record's unresolved items and
// re-derives the lifecycle status afterwards.
func (h *StagingHandler) autoMatch(w http.ResponseWriter, r *http.Request, companyID, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count, err := h.engine.AutoMatch(r.Context(), companyID, id)
	if err != nil {
		if errors.Is(err, staging.ErrRecordNotFound) {
			http.Error(w, "Staging record not found", http.StatusNotFound)
			return
		}
		log.Printf("Error auto-matching staging record %d: %v", id, err)
		http.Error(w, "Failed to auto-match", http.StatusInternalServerError)
		return
	}

	status, err := h.stagingSvc.RecomputeStatus(r.Context(), companyID, id)
	if err != nil {
		log.Printf("Error recomputing status of staging record %d: %v", id, err)
		http.Error(w, "Failed to update status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"matched": count,
		"status":  status,
	})
}

type transitionRequest struct {
	Status staging.Status `json:"status"`
}

func (h *StagingHandler) transition(w http.ResponseWriter, r *http.Request, companyID, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.stagingSvc.Transition(r.Context(), companyID, id, req.Status)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, staging.ErrRecordNotFound):
		http.Error(w, "Staging record not found", http.StatusNotFound)
	case errors.Is(err, staging.ErrCompletedImmutable), errors.Is(err, staging.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("Error transitioning staging record %d: %v", id, err)
		http.Error(w, "Failed to update status", http.StatusInternalServerError)
	}
}

type allocateRequest struct {
	Allocated bool `json:"allocated"`
}

func (h *StagingHandler) allocatePayment(w http.ResponseWriter, r *http.Request, companyID, id int64, rest []string) {
	if r.Method != http.MethodPost || len(rest) != 2 || rest[1] != "allocate" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	paymentID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil || paymentID <= 0 {
		http.Error(w, "Invalid payment id", http.StatusBadRequest)
		return
	}

	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err = h.stagingSvc.AllocatePayment(r.Context(), companyID, id, paymentID, req.Allocated)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, staging.ErrRecordNotFound):
		http.Error(w, "Staging record not found", http.StatusNotFound)
	case errors.Is(err, staging.ErrPaymentNotFound):
		http.Error(w, "Payment fragment not found", http.StatusNotFound)
	case errors.Is(err, staging.ErrCompletedImmutable):
		http.Error(w, "Completed records cannot be modified", http.StatusConflict)
	default:
		log.Printf("Error allocating payment %d on staging record %d: %v", paymentID, id, err)
		http.Error(w, "Failed to update payment allocation", http.StatusInternalServerError)
	}
}
