package cronjobs

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/xrpc"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"go-beacon/dedup"
	"go-beacon/processor"
	"go-beacon/types"
)

const feedMethod = "app.bsky.feed.getFeed"

// FeedWatch pairs a Bluesky feed with the region it monitors. Posts carry no
// coordinates, so reports from a watch are clustered at the region centroid.
type FeedWatch struct {
	Name   string
	URI    string
	Limit  int
	Region types.Location
}

// DefaultWatches covers the curated disaster feeds.
func DefaultWatches() []FeedWatch {
	return []FeedWatch{
		{
			Name:   "fire",
			URI:    "at://did:plc:qiknc4t5rq7yngvz7g4aezq7/app.bsky.feed.generator/aaaejsyozb6iq",
			Limit:  10,
			Region: types.Location{Lat: 34.0522, Lng: -118.2437},
		},
		{
			Name:   "earthquake",
			URI:    "at://did:plc:qiknc4t5rq7yngvz7g4aezq7/app.bsky.feed.generator/aaaejxlobe474",
			Limit:  10,
			Region: types.Location{Lat: 37.7749, Lng: -122.4194},
		},
		{
			Name:   "hurricane",
			URI:    "at://did:plc:qiknc4t5rq7yngvz7g4aezq7/app.bsky.feed.generator/aaaejwgffwqky",
			Limit:  10,
			Region: types.Location{Lat: 25.7617, Lng: -80.1918},
		},
	}
}

// Poller pulls watched feeds on a schedule and pushes new posts through
// intake. Already-seen post URIs are skipped so a slow feed does not reopen
// old clusters.
type Poller struct {
	client  *xrpc.Client
	intake  *processor.Intake
	watches []FeedWatch

	mu   sync.Mutex
	seen map[string]bool
}

func NewPoller(intake *processor.Intake, watches []FeedWatch) *Poller {
	return &Poller{
		client: &xrpc.Client{
			Client: &http.Client{Timeout: 10 * time.Second},
			Host:   "https://public.api.bsky.app",
		},
		intake:  intake,
		watches: watches,
		seen:    make(map[string]bool),
	}
}

func (p *Poller) poll(ctx context.Context, w FeedWatch) {
	limit := w.Limit
	if limit == 0 {
		limit = 10
	}
	params := map[string]interface{}{
		"feed":  w.URI,
		"limit": limit,
	}

	var out types.FeedResponse
	if err := p.client.Do(ctx, xrpc.Query, "json", feedMethod, params, nil, &out); err != nil {
		log.Printf("Error fetching %s feed via xrpc: %v", w.Name, err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	fresh := 0
	for _, entry := range out.Feed {
		post := entry.Post
		if post.Record.Text == "" || !p.markSeen(post.URI) {
			continue
		}
		fresh++
		g.Go(func() error {
			res, err := p.intake.ProcessReport(gctx, post.Record.Text, w.Region, "bluesky")
			if err != nil {
				log.Printf("Error processing %s feed post %s: %v", w.Name, post.URI, err)
				return nil
			}
			if res.Created {
				log.Printf("Feed %s opened incident %s", w.Name, res.IncidentID)
			}
			return nil
		})
	}
	_ = g.Wait()
	log.Printf("Feed %s: %d posts, %d new", w.Name, len(out.Feed), fresh)
}

func (p *Poller) markSeen(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[uri] {
		return false
	}
	p.seen[uri] = true
	return true
}

// InitCronJobs schedules the feed pollers and the cluster sweep. The returned
// cron can be stopped on shutdown.
func InitCronJobs(ctx context.Context, intake *processor.Intake, deduper *dedup.Deduplicator, sweepSpec string, watches []FeedWatch) *cron.Cron {
	log.Println("\nStarting Cron Jobs -------------------------------------------------------")
	c := cron.New()
	poller := NewPoller(intake, watches)

	// Stagger the feeds so one slow fetch does not pile onto the next.
	specs := []string{"*/10 * * * *", "2-59/10 * * * *", "4-59/10 * * * *"}
	for i, w := range watches {
		watch := w
		spec := specs[i%len(specs)]
		_, err := c.AddFunc(spec, func() {
			log.Printf("\nCronJob: %s Feed Running", watch.Name)
			poller.poll(ctx, watch)
		})
		if err != nil {
			log.Printf("Error scheduling %s feed: %v", watch.Name, err)
		}
	}

	_, err := c.AddFunc(sweepSpec, func() {
		log.Println("\nCronJob: Cluster Sweep Running")
		if removed := deduper.Sweep(ctx); removed > 0 {
			log.Printf("Sweep expired %d clusters", removed)
		}
	})
	if err != nil {
		log.Printf("Error scheduling cluster sweep: %v", err)
	}

	c.Start()
	return c
}
