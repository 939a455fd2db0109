package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go-beacon/alerts"
	"go-beacon/db"
	"go-beacon/enrichment"
	"go-beacon/geocode"
	"go-beacon/resources"
	"go-beacon/severity"
	"go-beacon/types"
)

// ErrUnrecoverable marks input no retry can fix; the incident fails
// immediately instead of burning the retry budget.
var ErrUnrecoverable = errors.New("unrecoverable input")

const staleRetryLimit = 5

type Options struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int           // per-stage retry budget
	Backoff        time.Duration // base stage backoff, doubled per attempt
	EnrichDeadline time.Duration
	Recipients     []string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.EnrichDeadline <= 0 {
		o.EnrichDeadline = 10 * time.Second
	}
	return o
}

// Pipeline drives incidents through
// pending → enriching → classified → resourced → alerted → closed,
// committing each transition to the store before the next stage starts. A
// bounded worker pool consumes the queue; one worker owns one incident
// end-to-end.
type Pipeline struct {
	store       db.Store
	enricher    *enrichment.Enricher
	classifier  severity.Classifier
	coordinator *resources.Coordinator
	dispatcher  *alerts.Dispatcher
	geocoder    *geocode.Geocoder // optional
	opts        Options

	queue chan string
	wg    sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	reasons  map[string]string
}

func New(store db.Store, enricher *enrichment.Enricher, classifier severity.Classifier,
	coordinator *resources.Coordinator, dispatcher *alerts.Dispatcher,
	geocoder *geocode.Geocoder, opts Options) *Pipeline {

	opts = opts.withDefaults()
	return &Pipeline{
		store:       store,
		enricher:    enricher,
		classifier:  classifier,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		geocoder:    geocoder,
		opts:        opts,
		queue:       make(chan string, opts.QueueSize),
		inflight:    make(map[string]context.CancelFunc),
		reasons:     make(map[string]string),
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (p *Pipeline) Start(parent context.Context) {
	p.baseCtx, p.stop = context.WithCancel(parent)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Printf("Pipeline started with %d workers", p.opts.Workers)
}

func (p *Pipeline) Stop() {
	if p.stop != nil {
		p.stop()
	}
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case id := <-p.queue:
			p.process(id)
		}
	}
}

// Enqueue schedules an incident for processing. A full queue is reported, not
// silently dropped.
func (p *Pipeline) Enqueue(id string) error {
	select {
	case p.queue <- id:
		return nil
	default:
		return fmt.Errorf("pipeline queue full, incident %s not enqueued", id)
	}
}

// Recover re-enqueues every non-terminal incident; replay resumes from the
// last committed state, never redoing a completed stage.
func (p *Pipeline) Recover(ctx context.Context) error {
	open, err := p.store.ListOpenIncidents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open incidents: %w", err)
	}
	for _, inc := range open {
		if err := p.Enqueue(inc.ID); err != nil {
			return err
		}
	}
	if len(open) > 0 {
		log.Printf("Recovered %d open incidents into the pipeline", len(open))
	}
	return nil
}

// Cancel aborts an incident: in-flight work is interrupted promptly via its
// context, otherwise the incident transitions to failed directly. Allocations
// are always released.
func (p *Pipeline) Cancel(id, reason string) {
	p.mu.Lock()
	cancel, running := p.inflight[id]
	if running {
		p.reasons[id] = reason
		p.mu.Unlock()
		cancel()
		return
	}
	p.mu.Unlock()

	ctx := p.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	inc, err := p.store.GetIncident(ctx, id)
	if err != nil {
		log.Printf("Cancel: incident %s not loadable: %v", id, err)
		return
	}
	if inc.Status.Terminal() {
		return
	}
	p.fail(ctx, inc, reason)
}

// Requeue moves a failed incident back to pending. This is an explicit
// operator action; failed incidents are never retried automatically.
func (p *Pipeline) Requeue(ctx context.Context, id string) error {
	inc, err := p.store.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if inc.Status != types.StatusFailed {
		return fmt.Errorf("incident %s is %s, only failed incidents can be requeued", id, inc.Status)
	}
	inc.Status = types.StatusPending
	inc.FailureReason = ""
	if err := p.store.PutIncident(ctx, inc); err != nil {
		return err
	}
	return p.Enqueue(id)
}

func (p *Pipeline) process(id string) {
	incCtx, cancel := context.WithCancel(p.baseCtx)
	p.mu.Lock()
	p.inflight[id] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.inflight, id)
		delete(p.reasons, id)
		p.mu.Unlock()
	}()

	inc, err := p.store.GetIncident(p.baseCtx, id)
	if err != nil {
		log.Printf("Pipeline: incident %s not loadable: %v", id, err)
		return
	}

	attempts := 0
	staleRetries := 0
	lastStatus := inc.Status

	for !inc.Status.Terminal() {
		if incCtx.Err() != nil {
			p.fail(p.baseCtx, inc, p.cancelReason(id))
			return
		}

		if inc.Status != lastStatus {
			attempts, staleRetries = 0, 0
			lastStatus = inc.Status
		}

		err := p.runStage(incCtx, inc)
		switch {
		case err == nil:
			continue

		case errors.Is(err, ErrUnrecoverable):
			p.fail(p.baseCtx, inc, err.Error())
			return

		case errors.Is(err, db.ErrStaleWrite):
			// Another writer got there first; retry the stage from a
			// fresh read without consuming the retry budget.
			staleRetries++
			if staleRetries > staleRetryLimit {
				p.fail(p.baseCtx, inc, "persistent write conflicts")
				return
			}
			reloaded, gerr := p.store.GetIncident(p.baseCtx, id)
			if gerr != nil {
				log.Printf("Pipeline: reload of %s failed: %v", id, gerr)
				return
			}
			inc = reloaded

		default:
			attempts++
			log.Printf("Pipeline: stage %s of incident %s failed (attempt %d/%d): %v",
				inc.Status, id, attempts, p.opts.MaxAttempts, err)
			if attempts >= p.opts.MaxAttempts {
				p.fail(p.baseCtx, inc, fmt.Sprintf("stage %s exhausted retries: %v", inc.Status, err))
				return
			}
			if !sleepCtx(incCtx, p.opts.Backoff<<(attempts-1)) {
				p.fail(p.baseCtx, inc, p.cancelReason(id))
				return
			}
		}
	}
}

// runStage executes the stage the incident's committed status calls for and
// commits the transition. Stage N+1 never sees uncommitted output of stage N.
func (p *Pipeline) runStage(ctx context.Context, inc *types.Incident) error {
	switch inc.Status {
	case types.StatusPending:
		if err := validate(inc); err != nil {
			return err
		}
		inc.Enrichment = p.enricher.Enrich(ctx, inc.Location, p.opts.EnrichDeadline)
		return p.advance(ctx, inc, types.StatusEnriching)

	case types.StatusEnriching:
		inc.Severity = p.classifier.Classify(inc.Type, inc.Enrichment, len(inc.SOSMessageIDs))
		return p.advance(ctx, inc, types.StatusClassified)

	case types.StatusClassified:
		granted := make(map[types.ResourceKind]int)
		for kind, want := range allocationPlan(inc.Severity, inc.Type) {
			grant, err := p.coordinator.Allocate(inc.ID, kind, want)
			if err != nil {
				return err
			}
			if grant.Shortage > 0 {
				log.Printf("Incident %s: %s shortage %d (granted %d of %d)",
					inc.ID, kind, grant.Shortage, grant.Granted, want)
			}
			if grant.Granted > 0 {
				granted[kind] = grant.Granted
			}
		}
		inc.ResourcesAllocated = granted
		return p.advance(ctx, inc, types.StatusResourced)

	case types.StatusResourced:
		inc.AlertVersion++
		report := p.dispatcher.Dispatch(ctx, inc.ID, inc.AlertVersion,
			p.composeAlert(ctx, inc), p.opts.Recipients)
		if len(report.Failed) > 0 {
			log.Printf("Incident %s: alert v%d failed for %d recipients: %v",
				inc.ID, inc.AlertVersion, len(report.Failed), report.Failed)
		}
		if err := p.advance(ctx, inc, types.StatusAlerted); err != nil {
			// The bump never committed; undo it so the retry dispatches under
			// the same idempotency key instead of re-delivering an unchanged
			// alert with a fresh one.
			inc.AlertVersion--
			return err
		}
		return nil

	case types.StatusAlerted:
		p.coordinator.Release(inc.ID)
		return p.advance(ctx, inc, types.StatusClosed)
	}
	return fmt.Errorf("incident %s in unexpected state %s", inc.ID, inc.Status)
}

// advance commits the transition; the returned error may be db.ErrStaleWrite.
func (p *Pipeline) advance(ctx context.Context, inc *types.Incident, next types.Status) error {
	prev := inc.Status
	inc.Status = next
	if err := p.store.PutIncident(ctx, inc); err != nil {
		inc.Status = prev
		return err
	}
	log.Printf("Incident %s: %s -> %s", inc.ID, prev, next)
	return nil
}

// fail is the single path into the failed state; it always releases
// allocations so cancellation never orphans capacity.
func (p *Pipeline) fail(ctx context.Context, inc *types.Incident, reason string) {
	p.coordinator.Release(inc.ID)

	for attempt := 0; attempt < staleRetryLimit; attempt++ {
		inc.Status = types.StatusFailed
		inc.FailureReason = reason
		err := p.store.PutIncident(ctx, inc)
		if err == nil {
			log.Printf("Incident %s failed: %s", inc.ID, reason)
			return
		}
		if !errors.Is(err, db.ErrStaleWrite) {
			log.Printf("Could not persist failure of incident %s: %v", inc.ID, err)
			return
		}
		reloaded, gerr := p.store.GetIncident(ctx, inc.ID)
		if gerr != nil {
			log.Printf("Could not reload incident %s while failing it: %v", inc.ID, gerr)
			return
		}
		inc = reloaded
	}
}

func (p *Pipeline) cancelReason(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if reason, ok := p.reasons[id]; ok {
		return reason
	}
	return "cancelled"
}

func (p *Pipeline) composeAlert(ctx context.Context, inc *types.Incident) string {
	area := p.geocoder.AreaName(ctx, inc.Location)
	return fmt.Sprintf("Evacuation alert: %s %s near %s. Follow instructions from local responders.",
		inc.Severity, inc.Type, area)
}

func validate(inc *types.Incident) error {
	if !types.ValidIncidentType(string(inc.Type)) {
		return fmt.Errorf("%w: unknown incident type %q", ErrUnrecoverable, inc.Type)
	}
	loc := inc.Location
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return fmt.Errorf("%w: location out of range (%f, %f)", ErrUnrecoverable, loc.Lat, loc.Lng)
	}
	return nil
}

// allocationPlan decides requested quantities per resource kind. Water
// hazards lean on shelter capacity; everything else scales with severity.
func allocationPlan(sev types.Severity, t types.IncidentType) map[types.ResourceKind]int {
	plan := map[types.ResourceKind]int{}
	switch sev {
	case types.Critical:
		plan[types.ResourceTeam] = 4
		plan[types.ResourceMedical] = 3
		plan[types.ResourceShelter] = 2
		plan[types.ResourceSupply] = 6
	case types.High:
		plan[types.ResourceTeam] = 2
		plan[types.ResourceMedical] = 2
		plan[types.ResourceShelter] = 1
		plan[types.ResourceSupply] = 4
	case types.Medium:
		plan[types.ResourceTeam] = 1
		plan[types.ResourceMedical] = 1
		plan[types.ResourceSupply] = 2
	default:
		plan[types.ResourceTeam] = 1
		plan[types.ResourceSupply] = 1
	}
	switch t {
	case types.Flood, types.Tsunami, types.Hurricane:
		plan[types.ResourceShelter]++
	}
	return plan
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
