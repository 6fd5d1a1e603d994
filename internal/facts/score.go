package facts

// severityWeights drive the aggregate risk score.
var severityWeights = map[Severity]float64{
	SeverityCritical: 10,
	SeverityHigh:     5,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// ComputeRiskScore returns the weighted severity score over the FULL
// finding set. Incremental merges must call this with the merged set,
// never with the fresh fragment alone, so the score can never drift from
// a from-scratch computation.
func ComputeRiskScore(findings []Finding) float64 {
	var total float64
	for _, f := range findings {
		total += severityWeights[f.Severity]
	}
	return total
}
