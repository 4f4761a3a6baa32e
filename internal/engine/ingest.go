package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/identity"
	"github.com/Priya8975/commerce-pulse/internal/metrics"
)

// IngestResult counts the outcome of one ingest batch.
type IngestResult struct {
	Received   int `json:"received"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

func (r *IngestResult) add(o IngestResult) {
	r.Received += o.Received
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Rejected += o.Rejected
}

// Ingest fingerprints a batch of raw events and stores each one at most once.
// Events whose payload cannot be fingerprinted, or that the store could not
// hold, are rejected and skipped; the rest of the batch still goes through.
// Duplicates are never errors.
func (p *Pipeline) Ingest(ctx context.Context, events []domain.RawEvent) (IngestResult, error) {
	start := time.Now()
	defer func() {
		p.metrics.StageDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	}()

	result := IngestResult{Received: len(events)}
	if len(events) == 0 {
		return result, nil
	}

	prepared := make([]domain.RawEvent, len(events))
	valid := make([]bool, len(events))
	now := identity.FormatCanonical(time.Now())

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range events {
		g.Go(func() error {
			ev := events[i]
			if err := checkStorable(ev); err != nil {
				p.logger.Warn("rejecting unstorable event",
					"vendor", ev.Vendor,
					"event_type", ev.EventType,
					"source_event_id", ev.EventID,
					"error", err,
				)
				return nil
			}
			fp, err := identity.ForEvent(ev)
			if err != nil {
				if errors.Is(err, domain.ErrMalformedPayload) {
					p.logger.Warn("rejecting event with malformed payload",
						"vendor", ev.Vendor,
						"event_type", ev.EventType,
						"source_event_id", ev.EventID,
						"error", err,
					)
					return nil
				}
				return err
			}
			if ev.EventID != "" && ev.EventID != fp && ev.SourceEventID == "" {
				ev.SourceEventID = ev.EventID
			}
			ev.EventID = fp
			if ev.IngestedAt == "" {
				ev.IngestedAt = domain.RawTime(now)
			}
			prepared[i] = ev
			valid[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("fingerprinting events: %w", err)
	}

	batch := make([]domain.RawEvent, 0, len(events))
	for i, ev := range prepared {
		if !valid[i] {
			result.Rejected++
			p.metrics.EventsIngested.WithLabelValues(labelValue(events[i].Vendor), metrics.ResultRejected).Inc()
			continue
		}
		batch = append(batch, ev)
	}

	batch = p.dropCached(ctx, batch, &result)
	if len(batch) == 0 {
		return result, nil
	}

	inserted, failed, err := writeRows(ctx, p, "insert_raw", batch, p.store.InsertRawEvents)
	if err != nil {
		return result, fmt.Errorf("inserting raw events: %w", err)
	}

	stored := make([]string, 0, len(batch))
	for i, ev := range batch {
		if failed[i] {
			result.Rejected++
			p.metrics.EventsIngested.WithLabelValues(ev.Vendor, metrics.ResultRejected).Inc()
			p.logger.Warn("store refused event",
				"event_id", ev.EventID,
				"vendor", ev.Vendor,
				"event_type", ev.EventType,
			)
			continue
		}
		if inserted[i] {
			result.Inserted++
			p.metrics.EventsIngested.WithLabelValues(ev.Vendor, metrics.ResultInserted).Inc()
		} else {
			result.Duplicates++
			p.metrics.EventsIngested.WithLabelValues(ev.Vendor, metrics.ResultDuplicate).Inc()
		}
		stored = append(stored, ev.EventID)
	}

	if p.cache != nil {
		if err := p.cache.Remember(ctx, stored); err != nil {
			p.logger.Warn("fingerprint cache update failed", "error", err)
		}
	}

	p.logger.Info("ingested batch",
		"received", result.Received,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"rejected", result.Rejected,
	)
	return result, nil
}

// dropCached removes events the cache already knows are stored and counts
// them as duplicates. Cache failures fall back to the full batch.
func (p *Pipeline) dropCached(ctx context.Context, batch []domain.RawEvent, result *IngestResult) []domain.RawEvent {
	if p.cache == nil || len(batch) == 0 {
		return batch
	}

	fps := make([]string, len(batch))
	for i, ev := range batch {
		fps[i] = ev.EventID
	}
	seen, err := p.cache.Seen(ctx, fps)
	if err != nil {
		p.logger.Warn("fingerprint cache lookup failed", "error", err)
		return batch
	}

	kept := batch[:0:0]
	for i, ev := range batch {
		if seen[i] {
			result.Duplicates++
			p.metrics.EventsIngested.WithLabelValues(ev.Vendor, metrics.ResultDuplicate).Inc()
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// IngestAll feeds events to Ingest in chunks of the pipeline batch size.
func (p *Pipeline) IngestAll(ctx context.Context, events []domain.RawEvent) (IngestResult, error) {
	var total IngestResult
	for start := 0; start < len(events); start += p.batchSize {
		end := min(start+p.batchSize, len(events))
		res, err := p.Ingest(ctx, events[start:end])
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
