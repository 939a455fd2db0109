package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is built once in main from the environment (after godotenv loads
// the .env file) and handed to the components that need it.
type Settings struct {
	// API keys and credentials
	OpenAIAPIKey       string
	OpenWeatherAPIKey  string
	NASAFirmsKey       string
	MapsAPIKey         string
	FirebaseCreds      string // base64-encoded service account JSON
	NaturalLangCreds   string // base64-encoded service account JSON
	AlertWebhookURL    string
	BlueskyFeedURIs    []string
	AlertRecipients    []string
	TrustedSources     []string
	ClientURL          string
	Port               string

	// Clustering
	GeocellKM      float64       // grid size for proximity clustering
	ClusterWindow  time.Duration // sliding corroboration window
	Corroboration  int           // reports needed before a cluster is verified
	SweepEvery     string        // cron spec for the stale-cluster sweep

	// Pipeline
	Workers        int
	StageAttempts  int
	StageBackoff   time.Duration
	EnrichDeadline time.Duration
	StaleWindow    time.Duration
	QueueSize      int

	// Dispatch
	DispatchBackoff  time.Duration
	DispatchAttempts int

	// Resource pool capacities
	Capacities map[string]int
}

// Load reads settings from the environment, falling back to defaults. None of
// the thresholds are load-bearing constants; they are all tunable here.
func Load() Settings {
	return Settings{
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		NASAFirmsKey:      os.Getenv("NASA_FIRMS_KEY"),
		MapsAPIKey:        os.Getenv("MAPS_CREDENTIALS"),
		FirebaseCreds:     os.Getenv("FIREBASE_CREDENTIALS"),
		NaturalLangCreds:  os.Getenv("NATURAL_LANGUAGE_CREDENTIALS"),
		AlertWebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
		BlueskyFeedURIs:   envList("BLUESKY_FEED_URIS"),
		AlertRecipients:   envList("ALERT_RECIPIENTS"),
		TrustedSources:    envListDefault("TRUSTED_SOURCES", []string{"official"}),
		ClientURL:         os.Getenv("CLIENT_URL"),
		Port:              envDefault("PORT", "8080"),

		GeocellKM:     envFloat("GEOCELL_KM", 5.0),
		ClusterWindow: envDuration("CLUSTER_WINDOW", 30*time.Minute),
		Corroboration: envInt("CORROBORATION_THRESHOLD", 2),
		SweepEvery:    envDefault("SWEEP_CRON", "*/5 * * * *"),

		Workers:        envInt("PIPELINE_WORKERS", 4),
		StageAttempts:  envInt("STAGE_ATTEMPTS", 3),
		StageBackoff:   envDuration("STAGE_BACKOFF", 500*time.Millisecond),
		EnrichDeadline: envDuration("ENRICH_DEADLINE", 10*time.Second),
		StaleWindow:    envDuration("ENRICH_STALE_WINDOW", 15*time.Minute),
		QueueSize:      envInt("PIPELINE_QUEUE", 256),

		DispatchBackoff:  envDuration("DISPATCH_BACKOFF", time.Second),
		DispatchAttempts: envInt("DISPATCH_ATTEMPTS", 5),

		Capacities: map[string]int{
			"team":    envInt("CAPACITY_TEAM", 10),
			"medical": envInt("CAPACITY_MEDICAL", 8),
			"shelter": envInt("CAPACITY_SHELTER", 6),
			"supply":  envInt("CAPACITY_SUPPLY", 20),
		},
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	return envListDefault(key, nil)
}

func envListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
