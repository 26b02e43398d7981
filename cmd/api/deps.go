package main

import (
	"log"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/matching"
	"reckon/internal/domain/matchrule"
	"reckon/internal/domain/staging"
	"reckon/internal/infrastructure/postgres"
	"reckon/internal/infrastructure/postgres/listener"
	httphandlers "reckon/internal/interfaces/http"
	"reckon/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	StagingHandler  *httphandlers.StagingHandler
	MatchingHandler *httphandlers.MatchingHandler
	RuleHandler     *httphandlers.RuleHandler

	// RuleListener invalidates the rule cache on LISTEN/NOTIFY events.
	RuleListener *listener.RuleListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	// Initialize repositories
	stagingRepo := postgres.NewStagingRepository(db)
	itemRepo := postgres.NewPurchaseItemRepository(db)
	stockRepo := postgres.NewStockRepository(db)
	historyRepo := postgres.NewMatchHistoryRepository(db)
	ruleRepo := postgres.NewMatchRuleRepository(db)
	sourceRepo := postgres.NewDuplicateSourceRepository(db)

	// Initialize domain services
	ruleCache := matchrule.NewCache(ruleRepo)
	ruleService := matchrule.NewService(ruleRepo)

	engine := matching.NewEngine(matching.Config{
		MinFuzzyConfidence: cfg.Matching.MinFuzzyConfidence,
		MaxResults:         cfg.Matching.MaxResults,
	}, stockRepo, itemRepo, historyRepo, ruleCache, ruleRepo)

	duplicateService := duplicate.NewService(duplicate.Config{
		MinTotalTolerance: cfg.Duplicate.MinTotalTolerance,
	}, sourceRepo)

	stagingService := staging.NewService(stagingRepo, duplicateService)

	// Initialize handlers
	stagingHandler := httphandlers.NewStagingHandler(stagingService, engine)
	matchingHandler := httphandlers.NewMatchingHandler(engine, historyRepo, matching.SuggestionConfig{
		SalesAccount:     cfg.Suggestion.SalesAccount,
		PurchaseAccount:  cfg.Suggestion.PurchaseAccount,
		InventoryAccount: cfg.Suggestion.InventoryAccount,
	})
	ruleHandler := httphandlers.NewRuleHandler(ruleService)

	ruleListener := listener.NewRuleListener(
		cfg.Database.ConnectionString(),
		postgres.RuleChangeChannel,
		ruleCache,
	)

	return &Dependencies{
		DB:              db,
		StagingHandler:  stagingHandler,
		MatchingHandler: matchingHandler,
		RuleHandler:     ruleHandler,
		RuleListener:    ruleListener,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
