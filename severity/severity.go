package severity

import "go-beacon/types"

// Classifier maps enrichment results and report volume to a severity level.
// The default is the deterministic RuleTable; a model-backed variant can be
// swapped in behind the same interface.
type Classifier interface {
	Classify(incidentType types.IncidentType, snap *types.EnrichmentSnapshot, reportCount int) types.Severity
}

// RuleTable is evaluated top-down, first match wins. It is pure and total.
type RuleTable struct {
	FireRadiusKM float64 // active detection distance that forces critical
}

func NewRuleTable() RuleTable {
	return RuleTable{FireRadiusKM: 1.0}
}

func (t RuleTable) Classify(_ types.IncidentType, snap *types.EnrichmentSnapshot, reportCount int) types.Severity {
	// Corroborated reports during sensor blindness: confidence cannot be
	// downgraded while we know enrichment is failing.
	if reportCount >= 3 && snap.HasErrors() {
		return types.Critical
	}
	if dist, ok := snap.FireWithinKM(); ok && dist <= t.FireRadiusKM {
		return types.Critical
	}
	if reportCount >= 5 {
		return types.High
	}
	if reportCount >= 2 {
		return types.Medium
	}
	return types.Low
}
