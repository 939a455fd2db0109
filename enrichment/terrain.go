package enrichment

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"go-beacon/types"
)

// TerrainSource derives elevation and a coarse flood-risk band from the Maps
// Elevation API.
type TerrainSource struct {
	Client       *maps.Client
	FetchTimeout time.Duration
}

func (s *TerrainSource) Name() string { return "terrain" }

func (s *TerrainSource) Timeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return 5 * time.Second
}

func (s *TerrainSource) Fetch(ctx context.Context, loc types.Location) (map[string]interface{}, error) {
	results, err := s.Client.Elevation(ctx, &maps.ElevationRequest{
		Locations: []maps.LatLng{{Lat: loc.Lat, Lng: loc.Lng}},
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no elevation result for (%f, %f)", loc.Lat, loc.Lng)
	}

	elevation := results[0].Elevation
	floodRisk := "low"
	switch {
	case elevation < 10:
		floodRisk = "high"
	case elevation < 50:
		floodRisk = "medium"
	}

	return map[string]interface{}{
		"elevation":  elevation,
		"resolution": results[0].Resolution,
		"flood_risk": floodRisk,
	}, nil
}
