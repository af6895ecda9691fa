// Package policy implements the three built-in provider-ordering policies.
// Every function here is pure: given identical inputs it produces identical
// output, with no I/O and no side effects, so it is directly testable for
// determinism.
package policy

import (
	"sort"

	"github.com/tributary-ai/llm-gateway/internal/health"
)

const (
	CostOptimized     = "cost-optimized"
	PerformanceFirst  = "performance-first"
	Balanced          = "balanced"

	DefaultMinUptime     = 0.90
	DefaultCostPerToken  = 0.002
	latencyNormMs        = 2000.0
	costNormPerToken     = 0.01
)

// Weights are the balanced policy's scoring weights.
type Weights struct {
	Uptime  float64
	Latency float64
	Cost    float64
}

// DefaultWeights matches spec.md's {uptime:0.3, latency:0.4, cost:0.3}.
var DefaultWeights = Weights{Uptime: 0.3, Latency: 0.4, Cost: 0.3}

// Params are the parameters a named policy is evaluated with.
type Params struct {
	MinUptime      float64
	CostPerToken   map[string]float64 // provider -> cost/token; falls back to DefaultCostPerToken
	Weights        Weights
}

// DefaultParams returns the spec's default parameter set.
func DefaultParams() Params {
	return Params{MinUptime: DefaultMinUptime, Weights: DefaultWeights}
}

func (p Params) costFor(provider string) float64 {
	if p.CostPerToken != nil {
		if c, ok := p.CostPerToken[provider]; ok {
			return c
		}
	}
	return DefaultCostPerToken
}

// Order returns candidates ordered per the named policy. Unknown policy
// names fall back to Balanced.
func Order(candidates []string, snapshot map[string]health.Aggregate, policyName string, params Params) []string {
	filtered := filterByMinUptime(candidates, snapshot, params.MinUptime)

	switch policyName {
	case CostOptimized:
		return orderByCost(filtered, snapshot, params)
	case PerformanceFirst, "performance_first":
		return orderByPerformance(filtered, snapshot)
	default:
		return orderByBalancedScore(filtered, snapshot, params)
	}
}

// filterByMinUptime drops providers below the uptime floor, but fails open
// (returns the unfiltered set) if that would leave nothing to route to.
func filterByMinUptime(candidates []string, snapshot map[string]health.Aggregate, minUptime float64) []string {
	if minUptime <= 0 {
		minUptime = DefaultMinUptime
	}
	var kept []string
	for _, c := range candidates {
		if snapshot[c].Uptime >= minUptime {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

func orderByCost(candidates []string, snapshot map[string]health.Aggregate, params Params) []string {
	out := append([]string(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := params.costFor(out[i]), params.costFor(out[j])
		if ci != cj {
			return ci < cj
		}
		return snapshot[out[i]].Uptime > snapshot[out[j]].Uptime
	})
	return out
}

func orderByPerformance(candidates []string, snapshot map[string]health.Aggregate) []string {
	out := append([]string(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := snapshot[out[i]].AvgLatencyMs, snapshot[out[j]].AvgLatencyMs
		if li != lj {
			return li < lj
		}
		return snapshot[out[i]].Uptime > snapshot[out[j]].Uptime
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func score(provider string, agg health.Aggregate, params Params) float64 {
	uptimeScore := clamp01(agg.Uptime)
	latencyScore := 1 - agg.AvgLatencyMs/latencyNormMs
	if latencyScore < 0 {
		latencyScore = 0
	}
	costScore := 1 - params.costFor(provider)/costNormPerToken
	if costScore < 0 {
		costScore = 0
	}
	return params.Weights.Uptime*uptimeScore + params.Weights.Latency*latencyScore + params.Weights.Cost*costScore
}

func orderByBalancedScore(candidates []string, snapshot map[string]health.Aggregate, params Params) []string {
	out := append([]string(nil), candidates...)
	scores := make(map[string]float64, len(out))
	for _, c := range out {
		scores[c] = score(c, snapshot[c], params)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
