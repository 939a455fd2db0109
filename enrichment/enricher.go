package enrichment

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go-beacon/types"
)

// Enricher fans out to every registered source concurrently and merges
// whatever completes within the deadline. A failing or slow source only costs
// its own entry; results arriving after the deadline are discarded.
type Enricher struct {
	sources     []Source
	staleWindow time.Duration

	mu       sync.Mutex
	lastGood map[string]types.EnrichmentResult
}

func NewEnricher(staleWindow time.Duration, sources ...Source) *Enricher {
	return &Enricher{
		sources:     sources,
		staleWindow: staleWindow,
		lastGood:    make(map[string]types.EnrichmentResult),
	}
}

type outcome struct {
	name   string
	result types.EnrichmentResult
}

// Enrich collects a snapshot for the location. It returns once all sources
// finish or the deadline elapses, whichever comes first; sources still
// outstanding at the deadline are recorded as timeouts.
func (e *Enricher) Enrich(ctx context.Context, loc types.Location, deadline time.Duration) *types.EnrichmentSnapshot {
	overall, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Buffered so late finishers never block; their results just go unread.
	ch := make(chan outcome, len(e.sources))
	pending := make(map[string]bool, len(e.sources))

	for _, src := range e.sources {
		pending[src.Name()] = true
		go func(src Source) {
			ch <- outcome{name: src.Name(), result: e.fetchOne(overall, src, loc)}
		}(src)
	}

	snap := &types.EnrichmentSnapshot{
		Results: make(map[string]types.EnrichmentResult, len(e.sources)),
		TakenAt: time.Now().UTC(),
	}

	for len(pending) > 0 {
		select {
		case o := <-ch:
			snap.Results[o.name] = o.result
			delete(pending, o.name)
		case <-overall.Done():
			for name := range pending {
				snap.Results[name] = e.timeoutResult(name, "deadline elapsed before source responded")
			}
			return snap
		}
	}
	return snap
}

func (e *Enricher) fetchOne(ctx context.Context, src Source, loc types.Location) types.EnrichmentResult {
	sctx := ctx
	if t := src.Timeout(); t > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	data, err := src.Fetch(sctx, loc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || sctx.Err() != nil {
			return e.timeoutResult(src.Name(), err.Error())
		}
		log.Printf("Enrichment source %s unavailable: %v", src.Name(), err)
		return types.EnrichmentResult{
			SourceName: src.Name(),
			Err:        &types.SourceError{Kind: types.SourceUnavailable, Message: err.Error()},
			FetchedAt:  time.Now().UTC(),
		}
	}

	result := types.EnrichmentResult{
		SourceName: src.Name(),
		Data:       data,
		FetchedAt:  time.Now().UTC(),
	}
	e.mu.Lock()
	e.lastGood[src.Name()] = result
	e.mu.Unlock()
	return result
}

// timeoutResult serves the prior cycle's data marked stale when it is still
// inside the staleness window; otherwise a timeout error entry.
func (e *Enricher) timeoutResult(name, msg string) types.EnrichmentResult {
	e.mu.Lock()
	prev, ok := e.lastGood[name]
	e.mu.Unlock()

	if ok && time.Since(prev.FetchedAt) <= e.staleWindow {
		prev.Stale = true
		return prev
	}
	return types.EnrichmentResult{
		SourceName: name,
		Err:        &types.SourceError{Kind: types.SourceTimeout, Message: msg},
		FetchedAt:  time.Now().UTC(),
	}
}
