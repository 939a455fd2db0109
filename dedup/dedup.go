package dedup

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-beacon/db"
	"go-beacon/geocode"
	"go-beacon/types"
)

// Config carries the clustering thresholds; none are load-bearing constants.
type Config struct {
	CellKM        float64       // geocell grid size, default ~5 km
	Window        time.Duration // sliding corroboration window, default 30 min
	Corroboration int           // reports needed to verify a cluster, default 2
	Trusted       map[string]bool
}

func (c Config) withDefaults() Config {
	if c.CellKM <= 0 {
		c.CellKM = 5.0
	}
	if c.Window <= 0 {
		c.Window = 30 * time.Minute
	}
	if c.Corroboration <= 0 {
		c.Corroboration = 2
	}
	return c
}

// Cluster is one open incident-candidate group of reports.
type Cluster struct {
	ID         string
	IncidentID string
	Cell       string
	Centroid   types.Location
	Count      int
	Verified   bool
	Direct     bool // created via the direct incident API, never swept
	LastUpdate time.Time
}

// IngestResult tells the caller what happened to the report.
type IngestResult struct {
	IncidentID string
	Created    bool // a new incident was opened
	Verified   bool
	// SupersededIncidentID is set when joining caused two clusters to merge;
	// the named incident's in-flight processing must be cancelled.
	SupersededIncidentID string
}

// Deduplicator groups raw distress reports into incident-candidate clusters by
// spatial and temporal proximity.
type Deduplicator struct {
	mu       sync.Mutex
	cfg      Config
	store    db.Store
	clusters map[string]*Cluster // by cluster id

	now func() time.Time
}

func New(store db.Store, cfg Config) *Deduplicator {
	return &Deduplicator{
		cfg:      cfg.withDefaults(),
		store:    store,
		clusters: make(map[string]*Cluster),
		now:      time.Now,
	}
}

// Ingest assigns the report to an open cluster or opens a new one, creating a
// pending incident for new clusters. It sets msg.Geocell and msg.Verified;
// the caller persists the report.
func (d *Deduplicator) Ingest(ctx context.Context, msg *types.SOSMessage) (IngestResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	msg.Geocell = geocode.CellID(msg.Location, d.cfg.CellKM)
	trusted := d.cfg.Trusted[msg.Source]

	target := d.bestCluster(msg, now)
	if target == nil {
		return d.openCluster(ctx, msg, now, trusted)
	}

	// Joining an existing cluster corroborates the report.
	target.Count++
	target.Centroid = types.Location{
		Lat: target.Centroid.Lat + (msg.Location.Lat-target.Centroid.Lat)/float64(target.Count),
		Lng: target.Centroid.Lng + (msg.Location.Lng-target.Centroid.Lng)/float64(target.Count),
	}
	target.LastUpdate = now
	if target.Count >= d.cfg.Corroboration || trusted {
		target.Verified = true
	}
	msg.Verified = true

	if err := d.appendToIncident(ctx, target.IncidentID, msg.ID); err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{IncidentID: target.IncidentID, Verified: target.Verified}
	if victim := d.mergeOverlapping(ctx, target); victim != "" {
		result.SupersededIncidentID = victim
	}
	return result, nil
}

// bestCluster picks the open cluster for the report: nearest centroid within
// the grid distance and window; an equidistant tie goes to the most recently
// updated cluster (favors active incidents).
func (d *Deduplicator) bestCluster(msg *types.SOSMessage, now time.Time) *Cluster {
	var (
		best     *Cluster
		bestDist float64
	)
	for _, cl := range d.clusters {
		if now.Sub(cl.LastUpdate) > d.cfg.Window {
			continue
		}
		dist := geocode.DistanceKM(msg.Location, cl.Centroid)
		if cl.Cell != msg.Geocell && dist > d.cfg.CellKM {
			continue
		}
		switch {
		case best == nil, dist < bestDist-distEpsilonKM:
			best, bestDist = cl, dist
		case math.Abs(dist-bestDist) <= distEpsilonKM && cl.LastUpdate.After(best.LastUpdate):
			best = cl
		}
	}
	return best
}

const distEpsilonKM = 1e-6

func (d *Deduplicator) openCluster(ctx context.Context, msg *types.SOSMessage, now time.Time, trusted bool) (IngestResult, error) {
	inc := &types.Incident{
		ID:            uuid.NewString(),
		Type:          inferType(msg),
		Location:      msg.Location,
		Status:        types.StatusPending,
		CreatedAt:     now.UTC(),
		SOSMessageIDs: []string{msg.ID},
	}
	if err := d.store.PutIncident(ctx, inc); err != nil {
		return IngestResult{}, fmt.Errorf("failed to create incident for cluster: %w", err)
	}

	cl := &Cluster{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Cell:       msg.Geocell,
		Centroid:   msg.Location,
		Count:      1,
		Verified:   trusted,
		LastUpdate: now,
	}
	d.clusters[cl.ID] = cl
	msg.Verified = trusted

	log.Printf("Opened cluster %s (incident %s) in cell %s", cl.ID, inc.ID, cl.Cell)
	return IngestResult{IncidentID: inc.ID, Created: true, Verified: trusted}, nil
}

// TrackDirect registers a cluster for an incident created through the API so
// later reports nearby attach to it. Direct clusters are never swept.
func (d *Deduplicator) TrackDirect(inc *types.Incident) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cl := &Cluster{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Cell:       geocode.CellID(inc.Location, d.cfg.CellKM),
		Centroid:   inc.Location,
		Verified:   true,
		Direct:     true,
		LastUpdate: d.now(),
	}
	d.clusters[cl.ID] = cl
}

// mergeOverlapping folds any cluster whose centroid drifted within half a
// grid cell of the updated one into it, returning the incident id the merge
// superseded (the younger cluster loses). The loser incident's reports move
// to the winner so its report count matches the merged cluster's.
func (d *Deduplicator) mergeOverlapping(ctx context.Context, target *Cluster) string {
	for id, other := range d.clusters {
		if id == target.ID {
			continue
		}
		if geocode.DistanceKM(target.Centroid, other.Centroid) > d.cfg.CellKM/2 {
			continue
		}

		winner, loser := target, other
		if other.Direct || (!target.Direct && other.Count > target.Count) {
			winner, loser = other, target
		}
		winner.Count += loser.Count
		if winner.Count >= d.cfg.Corroboration {
			winner.Verified = true
		}
		if loser.LastUpdate.After(winner.LastUpdate) {
			winner.LastUpdate = loser.LastUpdate
		}
		delete(d.clusters, loser.ID)

		if loserInc, err := d.store.GetIncident(ctx, loser.IncidentID); err != nil {
			log.Printf("Merge: could not load superseded incident %s: %v", loser.IncidentID, err)
		} else if len(loserInc.SOSMessageIDs) > 0 {
			if err := d.appendToIncident(ctx, winner.IncidentID, loserInc.SOSMessageIDs...); err != nil {
				log.Printf("Merge: could not move reports from %s to %s: %v",
					loser.IncidentID, winner.IncidentID, err)
			}
		}

		log.Printf("Merged cluster %s into %s; incident %s superseded", loser.ID, winner.ID, loser.IncidentID)
		return loser.IncidentID
	}
	return ""
}

// Sweep discards unpromoted clusters that aged past the window without
// corroboration. Their pending incidents are failed with reason "expired";
// direct clusters are exempt. Returns the number of clusters removed.
func (d *Deduplicator) Sweep(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for id, cl := range d.clusters {
		if cl.Direct || cl.Verified {
			// Verified and direct clusters just fall out of matching once
			// past the window; their incidents live on.
			if now.Sub(cl.LastUpdate) > d.cfg.Window {
				delete(d.clusters, id)
			}
			continue
		}
		if now.Sub(cl.LastUpdate) <= d.cfg.Window {
			continue
		}

		delete(d.clusters, id)
		removed++
		if err := d.failPendingIncident(ctx, cl.IncidentID); err != nil {
			log.Printf("Sweep: could not expire incident %s: %v", cl.IncidentID, err)
		}
	}
	if removed > 0 {
		log.Printf("Sweep discarded %d unpromoted clusters", removed)
	}
	return removed
}

func (d *Deduplicator) failPendingIncident(ctx context.Context, incidentID string) error {
	for attempt := 0; attempt < 3; attempt++ {
		inc, err := d.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != types.StatusPending {
			return nil
		}
		inc.Status = types.StatusFailed
		inc.FailureReason = "expired"
		err = d.store.PutIncident(ctx, inc)
		if err == nil {
			return nil
		}
		if err != db.ErrStaleWrite {
			return err
		}
	}
	return db.ErrStaleWrite
}

func (d *Deduplicator) appendToIncident(ctx context.Context, incidentID string, sosIDs ...string) error {
	for attempt := 0; attempt < 3; attempt++ {
		inc, err := d.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		inc.SOSMessageIDs = append(inc.SOSMessageIDs, sosIDs...)
		err = d.store.PutIncident(ctx, inc)
		if err == nil {
			return nil
		}
		if err != db.ErrStaleWrite {
			return err
		}
	}
	return db.ErrStaleWrite
}

// inferType guesses the hazard from the report text; reports rarely arrive
// typed. Defaults to fire, the most common SOS channel hazard.
func inferType(msg *types.SOSMessage) types.IncidentType {
	for _, pat := range []struct {
		needle string
		t      types.IncidentType
	}{
		{"earthquake", types.Earthquake},
		{"flood", types.Flood},
		{"wildfire", types.Wildfire},
		{"tsunami", types.Tsunami},
		{"hurricane", types.Hurricane},
	} {
		if strings.Contains(strings.ToLower(msg.Text), pat.needle) {
			return pat.t
		}
	}
	return types.Fire
}

// Restore rebuilds cluster state for incidents that were open when the process
// last stopped, so post-restart reports keep attaching to them instead of
// opening duplicates. Report counts inside the window come from the geocell
// index.
func (d *Deduplicator) Restore(ctx context.Context, incidents []*types.Incident) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for _, inc := range incidents {
		cell := geocode.CellID(inc.Location, d.cfg.CellKM)
		msgs, err := d.store.ListSOSByCell(ctx, cell, now.Add(-d.cfg.Window))
		if err != nil {
			log.Printf("Restore: could not list reports for incident %s: %v", inc.ID, err)
			continue
		}

		count := len(inc.SOSMessageIDs)
		last := inc.CreatedAt
		for _, m := range msgs {
			if m.Timestamp.After(last) {
				last = m.Timestamp
			}
		}
		cl := &Cluster{
			ID:         uuid.NewString(),
			IncidentID: inc.ID,
			Cell:       cell,
			Centroid:   inc.Location,
			Count:      count,
			Verified:   count >= d.cfg.Corroboration || inc.Direct,
			Direct:     inc.Direct,
			LastUpdate: last,
		}
		d.clusters[cl.ID] = cl
	}
	if len(incidents) > 0 {
		log.Printf("Restored %d clusters from open incidents", len(incidents))
	}
}
