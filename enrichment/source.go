package enrichment

import (
	"context"
	"time"

	"go-beacon/types"
)

// Source is one external environmental data feed. Fetch must honor ctx; the
// enricher bounds every call by min(Timeout, remaining deadline).
type Source interface {
	Name() string
	Timeout() time.Duration
	Fetch(ctx context.Context, loc types.Location) (map[string]interface{}, error)
}
