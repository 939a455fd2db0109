package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-beacon/alerts"
	"go-beacon/db"
	"go-beacon/dedup"
	"go-beacon/enrichment"
	"go-beacon/pipeline"
	"go-beacon/resources"
	"go-beacon/severity"
	"go-beacon/signal"
	"go-beacon/types"
)

func newTestIntake(t *testing.T) (*Intake, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	coordinator := resources.NewCoordinator(map[types.ResourceKind]int{
		types.ResourceTeam:    10,
		types.ResourceMedical: 8,
		types.ResourceShelter: 6,
		types.ResourceSupply:  20,
	})
	p := pipeline.New(store,
		enrichment.NewEnricher(time.Minute),
		severity.NewRuleTable(),
		coordinator,
		alerts.NewDispatcher(alerts.LogNotifier{}, store, time.Millisecond, 2),
		nil,
		pipeline.Options{Workers: 2, Backoff: time.Millisecond, EnrichDeadline: 50 * time.Millisecond})
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	return &Intake{
		Analyzer: &signal.Analyzer{Classifier: signal.KeywordClassifier{}},
		Store:    store,
		Dedup:    dedup.New(store, dedup.Config{Trusted: map[string]bool{"official": true}}),
		Pipeline: p,
	}, store
}

func waitForStatus(t *testing.T, store db.Store, id string, want types.Status) *types.Incident {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		inc, err := store.GetIncident(context.Background(), id)
		require.NoError(t, err)
		if inc.Status == want {
			return inc
		}
		select {
		case <-deadline:
			t.Fatalf("incident %s stuck in %s, wanted %s", id, inc.Status, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

var testLoc = types.Location{Lat: 34.05, Lng: -118.24}

func TestProcessReport(t *testing.T) {
	ctx := context.Background()

	t.Run("distress report opens and processes an incident", func(t *testing.T) {
		intake, store := newTestIntake(t)

		res, err := intake.ProcessReport(ctx, "help, we are trapped by the fire", testLoc, "manual")
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.NotEmpty(t, res.IncidentID)

		msg, err := store.GetSOS(ctx, res.SOSID)
		require.NoError(t, err)
		assert.NotEmpty(t, msg.Geocell)

		waitForStatus(t, store, res.IncidentID, types.StatusClosed)
	})

	t.Run("ordinary text is discarded", func(t *testing.T) {
		intake, store := newTestIntake(t)

		res, err := intake.ProcessReport(ctx, "lovely weather this afternoon", testLoc, "bluesky")
		require.NoError(t, err)
		assert.True(t, res.Discarded)
		assert.Empty(t, res.IncidentID)

		open, err := store.ListOpenIncidents(ctx)
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("second nearby report corroborates instead of duplicating", func(t *testing.T) {
		intake, _ := newTestIntake(t)

		first, err := intake.ProcessReport(ctx, "emergency, building collapsed", testLoc, "bluesky")
		require.NoError(t, err)
		second, err := intake.ProcessReport(ctx, "rescue needed, people under rubble",
			types.Location{Lat: 34.0505, Lng: -118.2405}, "bluesky")
		require.NoError(t, err)

		assert.False(t, second.Created)
		assert.True(t, second.Verified)
		assert.Equal(t, first.IncidentID, second.IncidentID)
	})

	t.Run("empty text is rejected", func(t *testing.T) {
		intake, _ := newTestIntake(t)
		_, err := intake.ProcessReport(ctx, "   ", testLoc, "manual")
		assert.Error(t, err)
	})
}

func TestCreateIncident(t *testing.T) {
	ctx := context.Background()
	intake, store := newTestIntake(t)

	inc := &types.Incident{Type: types.Flood, Location: testLoc}
	require.NoError(t, intake.CreateIncident(ctx, inc))
	require.NotEmpty(t, inc.ID)
	assert.True(t, inc.Direct)

	waitForStatus(t, store, inc.ID, types.StatusClosed)

	t.Run("later reports attach to the direct incident", func(t *testing.T) {
		res, err := intake.ProcessReport(ctx, "help, flood waters rising", testLoc, "bluesky")
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, inc.ID, res.IncidentID)
		assert.True(t, res.Verified)
	})
}
