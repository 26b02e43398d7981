package main

import (
	"log"
	"net/http"

	"reckon/internal/shared/config"
	"reckon/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", handleHealth)

	// Purchase ingest and staging lifecycle
	mux.HandleFunc("/api/purchases", deps.StagingHandler.HandleIngest)
	mux.HandleFunc("/api/staging/", deps.StagingHandler.HandleStagingRecord)

	// Item matching
	mux.HandleFunc("/api/matching/find", deps.MatchingHandler.HandleFindMatches)
	mux.HandleFunc("/api/matching/save", deps.MatchingHandler.HandleSaveMatch)
	mux.HandleFunc("/api/matching/suggest", deps.MatchingHandler.HandleSuggest)
	mux.HandleFunc("/api/matching/stats", deps.MatchingHandler.HandleStats)

	// Matching rules
	mux.HandleFunc("/api/rules", deps.RuleHandler.HandleRules)
	mux.HandleFunc("/api/rules/", deps.RuleHandler.HandleRule)

	// Apply global middleware
	handler := middleware.Logging(middleware.Telemetry(middleware.Tracing(mux)))

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
