package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-beacon/db"
	"go-beacon/geocode"
	"go-beacon/types"
)

func newTestDeduplicator(store db.Store) *Deduplicator {
	return New(store, Config{
		CellKM:        5.0,
		Window:        30 * time.Minute,
		Corroboration: 2,
		Trusted:       map[string]bool{"official": true},
	})
}

func report(id, text string, lat, lng float64, source string) *types.SOSMessage {
	return &types.SOSMessage{
		ID:        id,
		Text:      text,
		Location:  types.Location{Lat: lat, Lng: lng},
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("three nearby reports become one verified incident", func(t *testing.T) {
		store := db.NewMemoryStore()
		d := newTestDeduplicator(store)

		first, err := d.Ingest(ctx, report("sos-1", "trapped in building, help", 34.0522, -118.2437, "bluesky"))
		require.NoError(t, err)
		assert.True(t, first.Created)
		assert.False(t, first.Verified, "a single report is not corroborated")

		second, err := d.Ingest(ctx, report("sos-2", "fire spreading on our street", 34.0530, -118.2441, "bluesky"))
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.True(t, second.Verified, "second report corroborates the cluster")
		assert.Equal(t, first.IncidentID, second.IncidentID)

		third, err := d.Ingest(ctx, report("sos-3", "cannot evacuate, smoke everywhere", 34.0515, -118.2430, "manual"))
		require.NoError(t, err)
		assert.Equal(t, first.IncidentID, third.IncidentID)

		inc, err := store.GetIncident(ctx, first.IncidentID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, inc.Status)
		assert.Equal(t, []string{"sos-1", "sos-2", "sos-3"}, inc.SOSMessageIDs)
	})

	t.Run("trusted source verifies immediately", func(t *testing.T) {
		d := newTestDeduplicator(db.NewMemoryStore())

		msg := report("sos-1", "flooding reported downtown", 40.71, -74.0, "official")
		res, err := d.Ingest(ctx, msg)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.True(t, res.Verified)
		assert.True(t, msg.Verified)
	})

	t.Run("distant report opens its own incident", func(t *testing.T) {
		d := newTestDeduplicator(db.NewMemoryStore())

		la, err := d.Ingest(ctx, report("sos-1", "help, earthquake", 34.05, -118.24, "bluesky"))
		require.NoError(t, err)
		sf, err := d.Ingest(ctx, report("sos-2", "help, earthquake", 37.77, -122.42, "bluesky"))
		require.NoError(t, err)

		assert.True(t, sf.Created)
		assert.NotEqual(t, la.IncidentID, sf.IncidentID)
	})

	t.Run("reports outside the window never join", func(t *testing.T) {
		d := newTestDeduplicator(db.NewMemoryStore())

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		d.now = func() time.Time { return base }

		first, err := d.Ingest(ctx, report("sos-1", "wildfire near the ridge", 34.05, -118.24, "bluesky"))
		require.NoError(t, err)

		d.now = func() time.Time { return base.Add(31 * time.Minute) }
		second, err := d.Ingest(ctx, report("sos-2", "wildfire near the ridge", 34.05, -118.24, "bluesky"))
		require.NoError(t, err)

		assert.True(t, second.Created)
		assert.NotEqual(t, first.IncidentID, second.IncidentID)
	})

	t.Run("sets geocell on the report", func(t *testing.T) {
		d := newTestDeduplicator(db.NewMemoryStore())
		msg := report("sos-1", "help", 34.05, -118.24, "bluesky")
		_, err := d.Ingest(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, geocode.CellID(msg.Location, 5.0), msg.Geocell)
	})
}

func TestMergeOverlapping(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	d := newTestDeduplicator(store)

	// Two clusters whose centroids drifted within half a grid cell of each
	// other. The next report joining one of them triggers the merge.
	incA := &types.Incident{ID: "inc-a", Status: types.StatusEnriching, SOSMessageIDs: []string{"sos-1", "sos-2"}}
	incB := &types.Incident{ID: "inc-b", Status: types.StatusPending, SOSMessageIDs: []string{"sos-3"}}
	require.NoError(t, store.PutIncident(ctx, incA))
	require.NoError(t, store.PutIncident(ctx, incB))

	locA := types.Location{Lat: 34.05, Lng: -118.24}
	locB := types.Location{Lat: 34.07, Lng: -118.24} // ~2.2 km north
	d.clusters["a"] = &Cluster{
		ID: "a", IncidentID: "inc-a", Cell: geocode.CellID(locA, 5.0),
		Centroid: locA, Count: 2, Verified: true, LastUpdate: time.Now(),
	}
	d.clusters["b"] = &Cluster{
		ID: "b", IncidentID: "inc-b", Cell: geocode.CellID(locB, 5.0),
		Centroid: locB, Count: 1, LastUpdate: time.Now(),
	}

	res, err := d.Ingest(ctx, report("sos-4", "more smoke", 34.07, -118.24, "bluesky"))
	require.NoError(t, err)

	assert.Equal(t, "inc-b", res.IncidentID, "report joins the nearest cluster")
	assert.Equal(t, "inc-a", res.SupersededIncidentID, "smaller overlap is folded into the winner")
	assert.Len(t, d.clusters, 1)

	// The superseded incident's reports move over, so the winner's report
	// count agrees with the merged cluster's corroboration count.
	winner, err := store.GetIncident(ctx, "inc-b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sos-1", "sos-2", "sos-3", "sos-4"}, winner.SOSMessageIDs)
	for _, cl := range d.clusters {
		assert.Equal(t, len(winner.SOSMessageIDs), cl.Count)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	d := newTestDeduplicator(store)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	lone, err := d.Ingest(ctx, report("sos-1", "maybe a fire?", 34.05, -118.24, "bluesky"))
	require.NoError(t, err)

	va, err := d.Ingest(ctx, report("sos-2", "building collapsed", 40.71, -74.0, "bluesky"))
	require.NoError(t, err)
	_, err = d.Ingest(ctx, report("sos-3", "building collapsed, people inside", 40.712, -74.001, "bluesky"))
	require.NoError(t, err)

	d.now = func() time.Time { return base.Add(31 * time.Minute) }
	removed := d.Sweep(ctx)
	assert.Equal(t, 1, removed)

	expired, err := store.GetIncident(ctx, lone.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, expired.Status)
	assert.Equal(t, "expired", expired.FailureReason)

	verified, err := store.GetIncident(ctx, va.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, verified.Status, "corroborated incidents are never expired")
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()

	// State left behind by a previous process: an open incident with two
	// reports in its cell.
	loc := types.Location{Lat: 34.05, Lng: -118.24}
	cell := geocode.CellID(loc, 5.0)
	inc := &types.Incident{
		ID: "inc-1", Type: types.Fire, Location: loc,
		Status:        types.StatusEnriching,
		CreatedAt:     time.Now().UTC().Add(-10 * time.Minute),
		SOSMessageIDs: []string{"sos-1", "sos-2"},
	}
	require.NoError(t, store.PutIncident(ctx, inc))
	for _, id := range inc.SOSMessageIDs {
		require.NoError(t, store.PutSOS(ctx, &types.SOSMessage{
			ID: id, Location: loc, Geocell: cell,
			Timestamp: time.Now().UTC().Add(-5 * time.Minute),
		}))
	}

	d := newTestDeduplicator(store)
	d.Restore(ctx, []*types.Incident{inc})

	res, err := d.Ingest(ctx, report("sos-3", "still burning", 34.0505, -118.2405, "bluesky"))
	require.NoError(t, err)
	assert.False(t, res.Created, "post-restart report attaches to the restored incident")
	assert.Equal(t, "inc-1", res.IncidentID)
	assert.True(t, res.Verified, "restored count meets corroboration")
}

func TestInferType(t *testing.T) {
	for _, tc := range []struct {
		text string
		want types.IncidentType
	}{
		{"Earthquake just hit, buildings shaking", types.Earthquake},
		{"street is flooding fast", types.Flood},
		{"wildfire over the hill", types.Wildfire},
		{"tsunami warning on the coast", types.Tsunami},
		{"hurricane making landfall", types.Hurricane},
		{"smoke everywhere, send help", types.Fire},
	} {
		got := inferType(&types.SOSMessage{Text: tc.text})
		assert.Equal(t, tc.want, got, "text: %s", tc.text)
	}
}
