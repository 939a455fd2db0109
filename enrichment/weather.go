package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go-beacon/types"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// WeatherSource pulls current conditions from OpenWeatherMap.
type WeatherSource struct {
	APIKey       string
	BaseURL      string
	Client       *http.Client
	FetchTimeout time.Duration
}

func (s *WeatherSource) Name() string { return "weather" }

func (s *WeatherSource) Timeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return 5 * time.Second
}

func (s *WeatherSource) Fetch(ctx context.Context, loc types.Location) (map[string]interface{}, error) {
	base := s.BaseURL
	if base == "" {
		base = openWeatherBaseURL
	}
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", loc.Lat))
	q.Set("lon", fmt.Sprintf("%f", loc.Lng))
	q.Set("appid", s.APIKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/weather?"+q.Encode(), nil)
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
		return nil, fmt.Errorf("openweathermap returned status %s", resp.Status)
	}

	var body struct {
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Visibility float64 `json:"visibility"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode weather response: %w", err)
	}

	conditions := ""
	if len(body.Weather) > 0 {
		conditions = body.Weather[0].Main
	}
	visibility := body.Visibility
	if visibility == 0 {
		visibility = 10000
	}

	return map[string]interface{}{
		"temperature": body.Main.Temp,
		"conditions":  conditions,
		"wind_speed":  body.Wind.Speed,
		"humidity":    body.Main.Humidity,
		"visibility":  visibility,
	}, nil
}
