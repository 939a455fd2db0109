package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"googlemaps.github.io/maps"

	"github.com/bluesky-social/indigo/xrpc"

	"go-beacon/alerts"
	"go-beacon/config"
	"go-beacon/cronjobs"
	"go-beacon/db"
	"go-beacon/dedup"
	"go-beacon/enrichment"
	"go-beacon/geocode"
	"go-beacon/pipeline"
	"go-beacon/processor"
	"go-beacon/resources"
	"go-beacon/routes"
	"go-beacon/severity"
	"go-beacon/signal"
	"go-beacon/types"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	cfg := config.Load()
	ctx := context.Background()

	// Init the store. Firestore in deployment, in-memory when no credentials
	// are configured.
	var store db.Store
	if cfg.FirebaseCreds != "" {
		fs, err := db.InitFirestore(ctx, cfg.FirebaseCreds)
		if err != nil {
			log.Fatalf("Failed to initialize Firestore: %v", err)
		}
		defer fs.Close()
		store = fs
	} else {
		log.Println("FIREBASE_CREDENTIALS not set, using in-memory store")
		store = db.NewMemoryStore()
	}

	// Text analysis clients
	var classifier signal.TextClassifier = signal.KeywordClassifier{}
	if cfg.OpenAIAPIKey != "" {
		log.Println("OPENAI_API_KEY loaded")
		classifier = signal.NewOpenAIClassifier(cfg.OpenAIAPIKey, "")
	}

	var sentiment *signal.SentimentAnalyzer
	if cfg.NaturalLangCreds != "" {
		s, err := signal.NewSentimentAnalyzer(ctx, cfg.NaturalLangCreds)
		if err != nil {
			log.Fatalf("Failed to create Natural Language client: %v", err)
		}
		defer s.Close()
		sentiment = s
	}
	analyzer := &signal.Analyzer{Classifier: classifier, Sentiment: sentiment}

	// Maps client backs both reverse geocoding and terrain enrichment.
	var (
		geocoder   *geocode.Geocoder
		mapsClient *maps.Client
	)
	if cfg.MapsAPIKey != "" {
		mc, err := maps.NewClient(maps.WithAPIKey(cfg.MapsAPIKey))
		if err != nil {
			log.Fatalf("Failed to create maps client: %v", err)
		}
		mapsClient = mc
		geocoder = geocode.NewWithClient(mc)
	}

	// Enrichment sources. Sources without credentials are left out; the
	// enricher records what it could not reach.
	var sources []enrichment.Source
	if cfg.OpenWeatherAPIKey != "" {
		sources = append(sources, &enrichment.WeatherSource{APIKey: cfg.OpenWeatherAPIKey})
	}
	if cfg.NASAFirmsKey != "" {
		sources = append(sources, &enrichment.FIRMSSource{APIKey: cfg.NASAFirmsKey})
	}
	if mapsClient != nil {
		sources = append(sources, &enrichment.TerrainSource{Client: mapsClient})
	}
	watches := cronjobs.DefaultWatches()
	for i, uri := range cfg.BlueskyFeedURIs {
		if i < len(watches) {
			watches[i].URI = uri
		}
	}
	sources = append(sources, &enrichment.SocialSource{
		Client: &xrpc.Client{
			Client: &http.Client{Timeout: 10 * time.Second},
			Host:   "https://public.api.bsky.app",
		},
		FeedURI: watches[0].URI,
	})
	enricher := enrichment.NewEnricher(cfg.StaleWindow, sources...)

	// Resource pool
	capacities := make(map[types.ResourceKind]int, len(cfg.Capacities))
	for kind, n := range cfg.Capacities {
		capacities[types.ResourceKind(kind)] = n
	}
	coordinator := resources.NewCoordinator(capacities)

	// Alert delivery
	var notifier alerts.Notifier = alerts.LogNotifier{}
	if cfg.AlertWebhookURL != "" {
		notifier = &alerts.WebhookNotifier{URL: cfg.AlertWebhookURL}
	}
	dispatcher := alerts.NewDispatcher(notifier, store, cfg.DispatchBackoff, cfg.DispatchAttempts)

	trusted := make(map[string]bool, len(cfg.TrustedSources))
	for _, s := range cfg.TrustedSources {
		trusted[s] = true
	}
	deduper := dedup.New(store, dedup.Config{
		CellKM:        cfg.GeocellKM,
		Window:        cfg.ClusterWindow,
		Corroboration: cfg.Corroboration,
		Trusted:       trusted,
	})

	p := pipeline.New(store, enricher, severity.NewRuleTable(), coordinator, dispatcher, geocoder, pipeline.Options{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		MaxAttempts:    cfg.StageAttempts,
		Backoff:        cfg.StageBackoff,
		EnrichDeadline: cfg.EnrichDeadline,
		Recipients:     cfg.AlertRecipients,
	})
	p.Start(ctx)
	defer p.Stop()

	// Resume anything interrupted by the last shutdown: cluster state first so
	// new reports attach to the surviving incidents, then the pipeline queue.
	if open, err := store.ListOpenIncidents(ctx); err != nil {
		log.Printf("Recovery: %v", err)
	} else {
		deduper.Restore(ctx, open)
	}
	if err := p.Recover(ctx); err != nil {
		log.Printf("Recovery: %v", err)
	}

	intake := &processor.Intake{
		Analyzer: analyzer,
		Store:    store,
		Dedup:    deduper,
		Pipeline: p,
	}

	c := cronjobs.InitCronJobs(ctx, intake, deduper, cfg.SweepEvery, watches)
	defer c.Stop()

	r := routes.SetupRouter(store, intake, p, coordinator, cfg.ClientURL)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
