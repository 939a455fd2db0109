package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go-beacon/types"
)

func fireSnapshot(count int, nearestKM float64) *types.EnrichmentSnapshot {
	return &types.EnrichmentSnapshot{
		Results: map[string]types.EnrichmentResult{
			"firedetect": {
				SourceName: "firedetect",
				Data: map[string]interface{}{
					"count":      count,
					"nearest_km": nearestKM,
				},
			},
		},
	}
}

func errorSnapshot() *types.EnrichmentSnapshot {
	return &types.EnrichmentSnapshot{
		Results: map[string]types.EnrichmentResult{
			"weather": {
				SourceName: "weather",
				Err:        &types.SourceError{Kind: types.SourceTimeout, Message: "deadline elapsed"},
			},
		},
	}
}

func TestClassify(t *testing.T) {
	table := NewRuleTable()

	t.Run("corroborated reports with degraded enrichment force critical", func(t *testing.T) {
		assert.Equal(t, types.Critical, table.Classify(types.Flood, errorSnapshot(), 3))
	})

	t.Run("two reports with degraded enrichment do not", func(t *testing.T) {
		assert.Equal(t, types.Medium, table.Classify(types.Flood, errorSnapshot(), 2))
	})

	t.Run("active fire within one kilometer is critical", func(t *testing.T) {
		assert.Equal(t, types.Critical, table.Classify(types.Wildfire, fireSnapshot(4, 0.8), 1))
		assert.Equal(t, types.Critical, table.Classify(types.Wildfire, fireSnapshot(1, 1.0), 1))
	})

	t.Run("distant fire falls through to report volume", func(t *testing.T) {
		assert.Equal(t, types.Low, table.Classify(types.Wildfire, fireSnapshot(2, 7.5), 1))
	})

	t.Run("report volume thresholds", func(t *testing.T) {
		snap := &types.EnrichmentSnapshot{Results: map[string]types.EnrichmentResult{}}
		assert.Equal(t, types.Low, table.Classify(types.Earthquake, snap, 0))
		assert.Equal(t, types.Low, table.Classify(types.Earthquake, snap, 1))
		assert.Equal(t, types.Medium, table.Classify(types.Earthquake, snap, 2))
		assert.Equal(t, types.Medium, table.Classify(types.Earthquake, snap, 4))
		assert.Equal(t, types.High, table.Classify(types.Earthquake, snap, 5))
		assert.Equal(t, types.High, table.Classify(types.Earthquake, snap, 9))
	})

	t.Run("nil snapshot is handled", func(t *testing.T) {
		assert.Equal(t, types.Low, table.Classify(types.Fire, nil, 1))
	})

	t.Run("same inputs always classify the same", func(t *testing.T) {
		snap := fireSnapshot(3, 0.5)
		first := table.Classify(types.Wildfire, snap, 4)
		for i := 0; i < 50; i++ {
			assert.Equal(t, first, table.Classify(types.Wildfire, snap, 4))
		}
	})
}
