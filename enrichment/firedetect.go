package enrichment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-beacon/geocode"
	"go-beacon/types"
)

const firmsBaseURL = "https://firms.modaps.eosdis.nasa.gov/api/area/csv"

// FIRMSSource reads active fire detections from the NASA FIRMS area CSV feed
// and reports the ones near the incident.
type FIRMSSource struct {
	APIKey       string
	BaseURL      string
	Client       *http.Client
	FetchTimeout time.Duration
	RadiusKM     float64
}

func (s *FIRMSSource) Name() string { return "firedetect" }

func (s *FIRMSSource) Timeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return 8 * time.Second
}

func (s *FIRMSSource) Fetch(ctx context.Context, loc types.Location) (map[string]interface{}, error) {
	base := s.BaseURL
	if base == "" {
		base = firmsBaseURL
	}
	// FIRMS URL format: /MAP_KEY/VIIRS_SNPP_NRT/world/1/YYYY-MM-DD
	url := fmt.Sprintf("%s/%s/VIIRS_SNPP_NRT/world/1/%s",
		base, s.APIKey, time.Now().UTC().Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FIRMS returned status %s", resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return s.parse(string(raw), loc), nil
}

// parse filters the CSV to detections within RadiusKM of the incident.
func (s *FIRMSSource) parse(csv string, loc types.Location) map[string]interface{} {
	radius := s.RadiusKM
	if radius <= 0 {
		radius = 50.0
	}

	var detections []map[string]interface{}
	nearest := -1.0

	lines := strings.Split(csv, "\n")
	for _, line := range lines[1:] { // skip header
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 9 {
			continue
		}
		lat, err1 := strconv.ParseFloat(parts[0], 64)
		lon, err2 := strconv.ParseFloat(parts[1], 64)
		brightness, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		dist := geocode.DistanceKM(loc, types.Location{Lat: lat, Lng: lon})
		if dist > radius {
			continue
		}
		if nearest < 0 || dist < nearest {
			nearest = dist
		}
		if len(detections) < 10 {
			detections = append(detections, map[string]interface{}{
				"latitude":    lat,
				"longitude":   lon,
				"brightness":  brightness,
				"confidence":  parts[8],
				"distance_km": dist,
			})
		}
	}

	data := map[string]interface{}{
		"count":      len(detections),
		"detections": detections,
	}
	if nearest >= 0 {
		data["nearest_km"] = nearest
	}
	return data
}
