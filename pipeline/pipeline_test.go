package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-beacon/alerts"
	"go-beacon/db"
	"go-beacon/enrichment"
	"go-beacon/resources"
	"go-beacon/severity"
	"go-beacon/types"
)

type stubSource struct {
	name string
	data map[string]interface{}
	// block, when set, holds Fetch until the context is cancelled.
	block bool
	// started is closed on the first Fetch call, if set.
	started chan struct{}
	once    sync.Once
}

func (s *stubSource) Name() string           { return s.name }
func (s *stubSource) Timeout() time.Duration { return 0 }

func (s *stubSource) Fetch(ctx context.Context, _ types.Location) (map[string]interface{}, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.data, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	sends map[string]int
}

func (n *countingNotifier) Send(_ context.Context, recipient, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sends == nil {
		n.sends = make(map[string]int)
	}
	n.sends[recipient]++
	return nil
}

func (n *countingNotifier) count(recipient string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends[recipient]
}

type fixture struct {
	store       *db.MemoryStore
	coordinator *resources.Coordinator
	notifier    *countingNotifier
	pipeline    *Pipeline
}

func newFixture(t *testing.T, sources ...enrichment.Source) *fixture {
	t.Helper()
	store := db.NewMemoryStore()
	coordinator := resources.NewCoordinator(map[types.ResourceKind]int{
		types.ResourceTeam:    10,
		types.ResourceMedical: 8,
		types.ResourceShelter: 6,
		types.ResourceSupply:  20,
	})
	notifier := &countingNotifier{}
	p := New(store,
		enrichment.NewEnricher(time.Minute, sources...),
		severity.NewRuleTable(),
		coordinator,
		alerts.NewDispatcher(notifier, store, time.Millisecond, 3),
		nil,
		Options{
			Workers:        2,
			MaxAttempts:    3,
			Backoff:        time.Millisecond,
			EnrichDeadline: 200 * time.Millisecond,
			Recipients:     []string{"ops", "field"},
		})
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return &fixture{store: store, coordinator: coordinator, notifier: notifier, pipeline: p}
}

func (f *fixture) createIncident(t *testing.T, inc *types.Incident) *types.Incident {
	t.Helper()
	if inc.Status == "" {
		inc.Status = types.StatusPending
	}
	require.NoError(t, f.store.PutIncident(context.Background(), inc))
	return inc
}

func (f *fixture) waitForStatus(t *testing.T, id string, want types.Status) *types.Incident {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		inc, err := f.store.GetIncident(context.Background(), id)
		require.NoError(t, err)
		if inc.Status == want {
			return inc
		}
		select {
		case <-deadline:
			t.Fatalf("incident %s stuck in %s, wanted %s (reason: %s)", id, inc.Status, want, inc.FailureReason)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *fixture) totalAllocated() int {
	total := 0
	for _, r := range f.coordinator.Snapshot() {
		total += r.Allocated
	}
	return total
}

func TestPipelineHappyPath(t *testing.T) {
	f := newFixture(t, &stubSource{name: "weather", data: map[string]interface{}{"temperature": 24.0}})

	inc := f.createIncident(t, &types.Incident{
		ID:       "inc-1",
		Type:     types.Earthquake,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
	})
	require.NoError(t, f.pipeline.Enqueue(inc.ID))

	done := f.waitForStatus(t, inc.ID, types.StatusClosed)

	require.NotNil(t, done.Enrichment)
	assert.Equal(t, 24.0, done.Enrichment.Results["weather"].Data["temperature"])
	assert.Equal(t, types.Low, done.Severity, "single uncorroborated report")
	assert.NotEmpty(t, done.ResourcesAllocated)
	assert.Equal(t, 1, done.AlertVersion)

	assert.Equal(t, 1, f.notifier.count("ops"))
	assert.Equal(t, 1, f.notifier.count("field"))
	assert.Zero(t, f.totalAllocated(), "closing releases everything")
}

func TestPipelineFireNearbyIsCritical(t *testing.T) {
	f := newFixture(t, &stubSource{name: "firedetect", data: map[string]interface{}{
		"count":      3,
		"nearest_km": 0.4,
	}})

	inc := f.createIncident(t, &types.Incident{
		ID:       "inc-1",
		Type:     types.Wildfire,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
	})
	require.NoError(t, f.pipeline.Enqueue(inc.ID))

	done := f.waitForStatus(t, inc.ID, types.StatusClosed)
	assert.Equal(t, types.Critical, done.Severity)
	assert.Equal(t, 4, done.ResourcesAllocated[types.ResourceTeam])
	assert.Equal(t, 3, done.ResourcesAllocated[types.ResourceMedical])
}

func TestPipelineUnrecoverableInput(t *testing.T) {
	f := newFixture(t)

	inc := f.createIncident(t, &types.Incident{
		ID:       "inc-bad",
		Type:     types.IncidentType("meteor"),
		Location: types.Location{Lat: 34.05, Lng: -118.24},
	})
	require.NoError(t, f.pipeline.Enqueue(inc.ID))

	done := f.waitForStatus(t, inc.ID, types.StatusFailed)
	assert.Contains(t, done.FailureReason, "unrecoverable")
	assert.Zero(t, f.totalAllocated())
}

func TestPipelineCancelInFlight(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, &stubSource{name: "weather", block: true, started: started})

	inc := f.createIncident(t, &types.Incident{
		ID:       "inc-1",
		Type:     types.Fire,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
	})
	require.NoError(t, f.pipeline.Enqueue(inc.ID))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment never started")
	}
	f.pipeline.Cancel(inc.ID, "superseded")

	done := f.waitForStatus(t, inc.ID, types.StatusFailed)
	assert.Equal(t, "superseded", done.FailureReason)
	assert.Zero(t, f.totalAllocated(), "cancellation releases allocations")
}

func TestPipelineCancelIdle(t *testing.T) {
	f := newFixture(t)

	// Never enqueued; cancellation must still retire it.
	inc := f.createIncident(t, &types.Incident{
		ID:       "inc-1",
		Type:     types.Fire,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
	})
	f.pipeline.Cancel(inc.ID, "superseded")

	done := f.waitForStatus(t, inc.ID, types.StatusFailed)
	assert.Equal(t, "superseded", done.FailureReason)
}

func TestPipelineRequeue(t *testing.T) {
	f := newFixture(t, &stubSource{name: "weather", data: map[string]interface{}{"temperature": 24.0}})
	ctx := context.Background()

	inc := f.createIncident(t, &types.Incident{
		ID:            "inc-1",
		Type:          types.Flood,
		Location:      types.Location{Lat: 34.05, Lng: -118.24},
		Status:        types.StatusFailed,
		FailureReason: "expired",
	})

	require.NoError(t, f.pipeline.Requeue(ctx, inc.ID))
	done := f.waitForStatus(t, inc.ID, types.StatusClosed)
	assert.Empty(t, done.FailureReason)

	t.Run("only failed incidents requeue", func(t *testing.T) {
		assert.Error(t, f.pipeline.Requeue(ctx, inc.ID))
	})
}

func TestPipelineResumesFromCommittedStage(t *testing.T) {
	f := newFixture(t, &stubSource{name: "weather", data: map[string]interface{}{"temperature": 24.0}})

	// An incident that already finished classification, as after a crash
	// between stages. Processing must pick up at resourcing, not redo
	// enrichment.
	inc := f.createIncident(t, &types.Incident{
		ID:       "inc-1",
		Type:     types.Earthquake,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
		Status:   types.StatusClassified,
		Severity: types.High,
		Enrichment: &types.EnrichmentSnapshot{
			Results: map[string]types.EnrichmentResult{
				"weather": {SourceName: "weather", Data: map[string]interface{}{"temperature": 99.0}},
			},
		},
	})
	require.NoError(t, f.pipeline.Enqueue(inc.ID))

	done := f.waitForStatus(t, inc.ID, types.StatusClosed)
	assert.Equal(t, types.High, done.Severity, "classification is not redone")
	assert.Equal(t, 99.0, done.Enrichment.Results["weather"].Data["temperature"], "enrichment is not redone")
	assert.Equal(t, 2, done.ResourcesAllocated[types.ResourceTeam])
}

// outageStore injects transient write failures for commits of one status.
type outageStore struct {
	*db.MemoryStore
	mu       sync.Mutex
	failOn   types.Status
	failures int
}

func (s *outageStore) PutIncident(ctx context.Context, inc *types.Incident) error {
	s.mu.Lock()
	if inc.Status == s.failOn && s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("transient store outage")
	}
	s.mu.Unlock()
	return s.MemoryStore.PutIncident(ctx, inc)
}

func TestPipelineAlertVersionStableAcrossCommitRetry(t *testing.T) {
	// A commit failure after a successful dispatch must not mint a fresh
	// alert version on the retry; the same idempotency key keeps the
	// recipients covered.
	store := &outageStore{MemoryStore: db.NewMemoryStore(), failOn: types.StatusAlerted, failures: 1}
	coordinator := resources.NewCoordinator(map[types.ResourceKind]int{
		types.ResourceTeam:   10,
		types.ResourceSupply: 20,
	})
	notifier := &countingNotifier{}
	p := New(store,
		enrichment.NewEnricher(time.Minute),
		severity.NewRuleTable(),
		coordinator,
		alerts.NewDispatcher(notifier, store, time.Millisecond, 3),
		nil,
		Options{
			Workers:        1,
			MaxAttempts:    3,
			Backoff:        time.Millisecond,
			EnrichDeadline: 50 * time.Millisecond,
			Recipients:     []string{"ops"},
		})
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	inc := &types.Incident{
		ID:       "inc-1",
		Type:     types.Fire,
		Status:   types.StatusPending,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
	}
	require.NoError(t, store.PutIncident(context.Background(), inc))
	require.NoError(t, p.Enqueue(inc.ID))

	deadline := time.After(5 * time.Second)
	var done *types.Incident
	for {
		got, err := store.GetIncident(context.Background(), inc.ID)
		require.NoError(t, err)
		if got.Status == types.StatusClosed {
			done = got
			break
		}
		select {
		case <-deadline:
			t.Fatalf("incident stuck in %s (reason: %s)", got.Status, got.FailureReason)
		case <-time.After(5 * time.Millisecond):
		}
	}

	assert.Equal(t, 1, done.AlertVersion)
	assert.Equal(t, 1, notifier.count("ops"), "unchanged alert delivered once despite the commit retry")
}

func TestPipelineRecover(t *testing.T) {
	f := newFixture(t, &stubSource{name: "weather", data: map[string]interface{}{"temperature": 24.0}})
	ctx := context.Background()

	f.createIncident(t, &types.Incident{
		ID: "inc-open", Type: types.Fire,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
	})
	f.createIncident(t, &types.Incident{
		ID: "inc-done", Type: types.Fire,
		Location: types.Location{Lat: 34.05, Lng: -118.24},
		Status:   types.StatusClosed,
	})

	require.NoError(t, f.pipeline.Recover(ctx))
	f.waitForStatus(t, "inc-open", types.StatusClosed)

	closed, err := f.store.GetIncident(ctx, "inc-done")
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed.Version, "terminal incidents are left alone")
}
