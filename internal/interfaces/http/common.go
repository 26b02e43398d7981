package http

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// CompanyIDHeader scopes every request to one company. The core trusts the
// gateway in front of it to have authenticated the caller.
const CompanyIDHeader = "X-Company-ID"

func companyFromRequest(r *http.Request) (int64, bool) {
	raw := r.Header.Get(CompanyIDHeader)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}
