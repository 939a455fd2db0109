package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"go-beacon/types"
)

// Geocoder names areas for alert content via reverse geocoding.
type Geocoder struct {
	client *maps.Client
}

func New(apiKey string) (*Geocoder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("maps API key not set")
	}
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: c}, nil
}

// NewWithClient wraps an existing maps client (shared with the terrain source).
func NewWithClient(c *maps.Client) *Geocoder {
	return &Geocoder{client: c}
}

// AreaName returns a human-readable name for the location, falling back to
// raw coordinates when reverse geocoding yields nothing.
func (g *Geocoder) AreaName(ctx context.Context, loc types.Location) string {
	fallback := fmt.Sprintf("%.4f, %.4f", loc.Lat, loc.Lng)
	if g == nil || g.client == nil {
		return fallback
	}

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: loc.Lat, Lng: loc.Lng},
	})
	if err != nil || len(results) == 0 {
		return fallback
	}
	return results[0].FormattedAddress
}
