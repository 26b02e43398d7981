package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/matching"
	"reckon/internal/domain/matchrule"
	"reckon/internal/domain/staging"
	"reckon/internal/infrastructure/postgres"
	"reckon/internal/shared/config"
)

const usage = `Reckon Admin CLI - Management commands for the Reckon API

Usage:
  admin <command> [options]

Commands:
  duplicate-scan   Run retroactive duplicate detection over staged purchases
  auto-match       Auto-match unresolved line items on pending staged purchases
  match-stats      Print per-type match history counts

Examples:
  # Scan staged purchases of a specific company
  admin duplicate-scan --company-id=1

  # Scan several companies
  admin duplicate-scan --company-id=1,2,3

  # Scan every company that has staged purchases
  admin duplicate-scan --all

  # Run with custom worker count for higher concurrency
  admin duplicate-scan --all --workers=8

  # Run with timeout
  admin duplicate-scan --company-id=1 --timeout=5m

  # Auto-match pending records for a company
  admin auto-match --company-id=1

  # Print match statistics
  admin match-stats --company-id=1
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "duplicate-scan":
		runDuplicateScan(os.Args[2:])
	case "auto-match":
		runAutoMatch(os.Args[2:])
	case "match-stats":
		runMatchStats(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
}

// connect loads configuration and opens the database.
func connect() (*config.Config, *postgres.DB) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")
	return cfg, db
}

// resolveCompanyIDs turns the --company-id / --all flags into a concrete id
// list.
func resolveCompanyIDs(ctx context.Context, db *postgres.DB, companyIDStr string, all bool) []int64 {
	if all {
		stagingRepo := postgres.NewStagingRepository(db)
		ids, err := stagingRepo.CompaniesWithRecords(ctx)
		if err != nil {
			log.Fatalf("Failed to list companies: %v", err)
		}
		log.Printf("Found %d companies with staged purchases", len(ids))
		return ids
	}

	var ids []int64
	for _, p := range strings.Split(companyIDStr, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			log.Fatalf("Invalid company ID '%s': %v", p, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func runDuplicateScan(args []string) {
	fs := flag.NewFlagSet("duplicate-scan", flag.ExitOnError)

	companyIDStr := fs.String("company-id", "", "Company ID(s) to scan (comma-separated for multiple)")
	allCompanies := fs.Bool("all", false, "Scan all companies with staged purchases")
	workers := fs.Int("workers", duplicate.DefaultWorkerCount, "Number of concurrent workers")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin duplicate-scan [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  admin duplicate-scan --company-id=1")
		fmt.Println("  admin duplicate-scan --company-id=1,2,3")
		fmt.Println("  admin duplicate-scan --all")
		fmt.Println("  admin duplicate-scan --all --workers=8 --timeout=1h")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *companyIDStr == "" && !*allCompanies {
		fmt.Println("Error: must specify --company-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, db := connect()
	defer db.Close()

	sourceRepo := postgres.NewDuplicateSourceRepository(db)
	dupService := duplicate.NewService(duplicate.Config{
		MinTotalTolerance: cfg.Duplicate.MinTotalTolerance,
	}, sourceRepo)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	companyIDs := resolveCompanyIDs(ctx, db, *companyIDStr, *allCompanies)
	if len(companyIDs) == 0 {
		log.Println("No companies to process")
		return
	}

	log.Printf("Starting duplicate scan for %d company(ies) with %d workers", len(companyIDs), *workers)
	startTime := time.Now()

	for _, id := range companyIDs {
		result, err := dupService.ScanStaged(ctx, id, *workers)
		if err != nil {
			log.Fatalf("Duplicate scan failed for company %d: %v", id, err)
		}
		printScanResult(id, result)
	}

	log.Printf("Duplicate scan completed in %v", time.Since(startTime))
}

func printScanResult(companyID int64, result *duplicate.ScanResult) {
	fmt.Printf("\n=== Company %d ===\n", companyID)
	fmt.Printf("  Records checked:   %d\n", result.RecordsChecked)
	fmt.Printf("  Duplicates found:  %d\n", result.DuplicatesFound)
	fmt.Printf("  Duplicates marked: %d\n", result.Marked)

	if len(result.Errors) > 0 {
		fmt.Printf("  Errors:            %d\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(result.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}

func runAutoMatch(args []string) {
	fs := flag.NewFlagSet("auto-match", flag.ExitOnError)

	companyIDStr := fs.String("company-id", "", "Company ID(s) to process (comma-separated for multiple)")
	allCompanies := fs.Bool("all", false, "Process all companies with staged purchases")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin auto-match [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  admin auto-match --company-id=1")
		fmt.Println("  admin auto-match --all --timeout=1h")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *companyIDStr == "" && !*allCompanies {
		fmt.Println("Error: must specify --company-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, db := connect()
	defer db.Close()

	stagingRepo := postgres.NewStagingRepository(db)
	itemRepo := postgres.NewPurchaseItemRepository(db)
	stockRepo := postgres.NewStockRepository(db)
	historyRepo := postgres.NewMatchHistoryRepository(db)
	ruleRepo := postgres.NewMatchRuleRepository(db)

	ruleCache := matchrule.NewCache(ruleRepo)
	engine := matching.NewEngine(matching.Config{
		MinFuzzyConfidence: cfg.Matching.MinFuzzyConfidence,
		MaxResults:         cfg.Matching.MaxResults,
	}, stockRepo, itemRepo, historyRepo, ruleCache, ruleRepo)

	sourceRepo := postgres.NewDuplicateSourceRepository(db)
	dupService := duplicate.NewService(duplicate.Config{
		MinTotalTolerance: cfg.Duplicate.MinTotalTolerance,
	}, sourceRepo)
	stagingService := staging.NewService(stagingRepo, dupService)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	companyIDs := resolveCompanyIDs(ctx, db, *companyIDStr, *allCompanies)
	if len(companyIDs) == 0 {
		log.Println("No companies to process")
		return
	}

	startTime := time.Now()

	const batchSize = 100
	for _, companyID := range companyIDs {
		records, matched := 0, 0
		for offset := 0; ; offset += batchSize {
			batch, err := stagingRepo.ListByStatus(ctx, companyID, staging.StatusPending, batchSize, offset)
			if err != nil {
				log.Fatalf("Failed to list pending records for company %d: %v", companyID, err)
			}
			if len(batch) == 0 {
				break
			}
			for _, rec := range batch {
				n, err := engine.AutoMatch(ctx, companyID, rec.ID)
				if err != nil {
					log.Printf("Auto-match failed for record %d: %v", rec.ID, err)
					continue
				}
				if _, err := stagingService.RecomputeStatus(ctx, companyID, rec.ID); err != nil {
					log.Printf("Status recompute failed for record %d: %v", rec.ID, err)
				}
				records++
				matched += n
			}
		}
		fmt.Printf("\n=== Company %d ===\n", companyID)
		fmt.Printf("  Records processed: %d\n", records)
		fmt.Printf("  Items matched:     %d\n", matched)
	}

	log.Printf("Auto-match completed in %v", time.Since(startTime))
}

func runMatchStats(args []string) {
	fs := flag.NewFlagSet("match-stats", flag.ExitOnError)

	companyID := fs.Int64("company-id", 0, "Company ID to report on")

	fs.Usage = func() {
		fmt.Println("Usage: admin match-stats --company-id=<id>")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *companyID <= 0 {
		fmt.Println("Error: must specify --company-id")
		fs.Usage()
		os.Exit(1)
	}

	_, db := connect()
	defer db.Close()

	historyRepo := postgres.NewMatchHistoryRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	counts, err := historyRepo.Stats(ctx, *companyID)
	if err != nil {
		log.Fatalf("Failed to query match stats: %v", err)
	}

	fmt.Printf("\n=== Company %d ===\n", *companyID)
	if len(counts) == 0 {
		fmt.Println("  No matches recorded")
		return
	}
	var total int64
	for _, c := range counts {
		fmt.Printf("  %-12s %d\n", c.Type, c.Count)
		total += c.Count
	}
	fmt.Printf("  %-12s %d\n", "total", total)
}
