package enrichment

import (
	"context"
	"time"

	"github.com/bluesky-social/indigo/xrpc"

	"go-beacon/types"
)

const feedMethod = "app.bsky.feed.getFeed"

// SocialSource measures near-term social signal volume from a Bluesky feed
// covering the incident's hazard.
type SocialSource struct {
	Client       *xrpc.Client
	FeedURI      string
	Limit        int
	FetchTimeout time.Duration
}

func (s *SocialSource) Name() string { return "social" }

func (s *SocialSource) Timeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return 6 * time.Second
}

func (s *SocialSource) Fetch(ctx context.Context, _ types.Location) (map[string]interface{}, error) {
	limit := s.Limit
	if limit == 0 {
		limit = 25
	}
	params := map[string]interface{}{
		"feed":  s.FeedURI,
		"limit": limit,
	}

	var out struct {
		Feed []struct {
			Post struct {
				Record struct {
					Text      string `json:"text"`
					CreatedAt string `json:"createdAt"`
				} `json:"record"`
			} `json:"post"`
		} `json:"feed"`
	}
	if err := s.Client.Do(ctx, xrpc.Query, "json", feedMethod, params, nil, &out); err != nil {
		return nil, err
	}

	latest := ""
	for _, entry := range out.Feed {
		if entry.Post.Record.CreatedAt > latest {
			latest = entry.Post.Record.CreatedAt
		}
	}

	return map[string]interface{}{
		"post_count":     len(out.Feed),
		"latest_post_at": latest,
	}, nil
}
