package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

// TransformResult counts one raw-to-curated pass.
type TransformResult struct {
	Scanned        int `json:"scanned"`
	Inserted       int `json:"inserted"`
	Unattributable int `json:"unattributable"`
	Failed         int `json:"failed"`
}

// Transform normalizes every stored raw event into the curated collection.
// Curated rows are upserted: a re-run inserts nothing new, but a normalizer
// with more matchers re-attributes rows written by an earlier run.
func (p *Pipeline) Transform(ctx context.Context) (TransformResult, error) {
	start := time.Now()
	defer func() {
		p.metrics.StageDuration.WithLabelValues("transform").Observe(time.Since(start).Seconds())
	}()

	var result TransformResult
	chunk := make([]domain.RawEvent, 0, p.batchSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		res, err := p.transformChunk(ctx, chunk)
		result.Scanned += res.Scanned
		result.Inserted += res.Inserted
		result.Unattributable += res.Unattributable
		result.Failed += res.Failed
		chunk = chunk[:0]
		return err
	}

	err := p.store.ScanRawEvents(ctx, func(ev domain.RawEvent) error {
		chunk = append(chunk, ev)
		if len(chunk) >= p.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("scanning raw events: %w", err)
	}
	if err := flush(); err != nil {
		return result, err
	}

	p.logger.Info("transform complete",
		"scanned", result.Scanned,
		"inserted", result.Inserted,
		"unattributable", result.Unattributable,
		"failed", result.Failed,
	)
	return result, nil
}

func (p *Pipeline) transformChunk(ctx context.Context, raw []domain.RawEvent) (TransformResult, error) {
	curated := make([]domain.CuratedEvent, len(raw))

	result := TransformResult{Scanned: len(raw)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range raw {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			curated[i] = p.normalizer.Normalize(raw[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("normalizing events: %w", err)
	}

	for _, ev := range curated {
		if !ev.Attributed() {
			result.Unattributable++
		}
	}

	created, failed, err := writeRows(ctx, p, "upsert_curated", curated, p.store.UpsertCuratedEvents)
	if err != nil {
		return result, fmt.Errorf("upserting curated events: %w", err)
	}

	for i, ok := range created {
		if failed[i] {
			result.Failed++
			p.logger.Warn("store refused curated event",
				"event_id", curated[i].Fingerprint,
				"vendor", curated[i].Vendor,
				"event_type", curated[i].EventType,
			)
			continue
		}
		if !ok {
			continue
		}
		result.Inserted++
		if !curated[i].Attributed() {
			p.metrics.EventsUnattributed.WithLabelValues(curated[i].Vendor).Inc()
			p.logger.Debug("unattributable event",
				"event_id", curated[i].Fingerprint,
				"vendor", curated[i].Vendor,
				"event_type", curated[i].EventType,
			)
		}
	}
	return result, nil
}
