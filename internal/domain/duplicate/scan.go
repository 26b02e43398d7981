package duplicate

import (
	"context"
	"fmt"
	"log"
	"sync"

	"reckon/internal/domain/purchase"
)

const (
	// DefaultWorkerCount bounds concurrent record checks during a
	// retroactive scan.
	DefaultWorkerCount = 4

	// scanBatchSize is how many staged records are fetched per page.
	scanBatchSize = 200
)

// ScanResult summarizes one retroactive duplicate scan.
type ScanResult struct {
	RecordsChecked  int      `json:"recordsChecked"`
	DuplicatesFound int      `json:"duplicatesFound"`
	Marked          int      `json:"marked"`
	Errors          []string `json:"errors,omitempty"`
}

// processedTracker prevents both sides of a duplicate pair from being marked
// when workers race on overlapping hits.
type processedTracker struct {
	processed sync.Map // "source/sourceID" -> true
}

func (p *processedTracker) markProcessed(source purchase.Source, sourceID string) bool {
	_, loaded := p.processed.LoadOrStore(string(source)+"/"+sourceID, true)
	return !loaded
}

// claimPair atomically decides which worker owns a duplicate pair. The key
// is order-independent, so two workers holding opposite sides of the same
// pair contend on one entry and exactly one wins.
func (p *processedTracker) claimPair(aSource purchase.Source, aID string, bSource purchase.Source, bID string) bool {
	ka := string(aSource) + "/" + aID
	kb := string(bSource) + "/" + bID
	if kb < ka {
		ka, kb = kb, ka
	}
	_, loaded := p.processed.LoadOrStore("pair|"+ka+"|"+kb, true)
	return !loaded
}

// ScanStaged re-runs duplicate detection over every pending staged purchase
// of a company, marking the scanned record duplicate whenever a distinct
// existing record matches. Batches are paged; within a batch, records are
// checked concurrently by a bounded worker pool.
func (s *Service) ScanStaged(ctx context.Context, companyID int64, workers int) (*ScanResult, error) {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}

	result := &ScanResult{}
	tracker := &processedTracker{}

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		records, err := s.repo.ListStagedPending(ctx, companyID, scanBatchSize, offset)
		if err != nil {
			return result, fmt.Errorf("failed to list staged records: %w", err)
		}
		if len(records) == 0 {
			break
		}

		s.scanBatch(ctx, companyID, records, tracker, workers, result)

		offset += len(records)
		if len(records) < scanBatchSize {
			break
		}
	}

	log.Printf("Duplicate scan for company %d: checked=%d, found=%d, marked=%d, errors=%d",
		companyID, result.RecordsChecked, result.DuplicatesFound, result.Marked, len(result.Errors))
	return result, nil
}

func (s *Service) scanBatch(ctx context.Context, companyID int64, records []*ExistingRecord, tracker *processedTracker, workers int, result *ScanResult) {
	sem := make(chan struct{}, workers)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, rec := range records {
		wg.Add(1)
		go func(er *ExistingRecord) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				result.Errors = append(result.Errors, ctx.Err().Error())
				mu.Unlock()
				return
			}

			found, marked, err := s.checkStagedRecord(ctx, companyID, er, tracker)

			mu.Lock()
			result.RecordsChecked++
			result.DuplicatesFound += found
			result.Marked += marked
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			mu.Unlock()
		}(rec)
	}

	wg.Wait()
}

func (s *Service) checkStagedRecord(ctx context.Context, companyID int64, er *ExistingRecord, tracker *processedTracker) (found, marked int, err error) {
	rec := &purchase.Record{
		Source:         purchase.SourceStaging,
		SourceID:       er.SourceID,
		OrderNumber:    er.OrderNumber,
		InvoiceNumber:  er.InvoiceNumber,
		PurchaseDate:   er.PurchaseDate,
		Total:          er.Total,
		BillingAddress: er.BillingAddress,
		Items:          er.Items,
	}

	match, err := s.findDuplicateExcluding(ctx, companyID, rec, er.Source, er.SourceID)
	if err != nil {
		return 0, 0, err
	}
	if match == nil {
		return 0, 0, nil
	}
	found = 1

	// The pair claim is the decision point: when both sides of a pair are
	// checked concurrently, exactly one worker wins it, so a group can
	// never lose all of its members.
	if !tracker.claimPair(er.Source, er.SourceID, match.Source, match.SourceID) {
		return found, 0, nil
	}
	// A record already marked through another pair stays as it is.
	if !tracker.markProcessed(er.Source, er.SourceID) {
		return found, 0, nil
	}
	tracker.markProcessed(match.Source, match.SourceID)

	if err := s.MarkAsDuplicate(ctx, companyID, er.Source, er.SourceID, match); err != nil {
		return found, 0, err
	}
	return found, 1, nil
}
