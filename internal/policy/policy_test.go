package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tributary-ai/llm-gateway/internal/health"
)

func TestOrder_CostOptimizedPrefersCheaperProvider(t *testing.T) {
	snapshot := map[string]health.Aggregate{
		"openai":    {Uptime: 0.99, AvgLatencyMs: 200},
		"anthropic": {Uptime: 0.99, AvgLatencyMs: 200},
	}
	params := Params{
		MinUptime:    DefaultMinUptime,
		CostPerToken: map[string]float64{"openai": 0.01, "anthropic": 0.002},
	}

	order := Order([]string{"openai", "anthropic"}, snapshot, CostOptimized, params)
	assert.Equal(t, []string{"anthropic", "openai"}, order)
}

func TestOrder_PerformanceFirstPrefersLowerLatency(t *testing.T) {
	snapshot := map[string]health.Aggregate{
		"openai":    {Uptime: 0.99, AvgLatencyMs: 500},
		"anthropic": {Uptime: 0.99, AvgLatencyMs: 100},
	}

	order := Order([]string{"openai", "anthropic"}, snapshot, PerformanceFirst, DefaultParams())
	assert.Equal(t, []string{"anthropic", "openai"}, order)
}

func TestOrder_PerformanceFirstAcceptsUnderscoreSynonym(t *testing.T) {
	snapshot := map[string]health.Aggregate{
		"openai":    {Uptime: 0.99, AvgLatencyMs: 500},
		"anthropic": {Uptime: 0.99, AvgLatencyMs: 100},
	}

	order := Order([]string{"openai", "anthropic"}, snapshot, "performance_first", DefaultParams())
	assert.Equal(t, []string{"anthropic", "openai"}, order)
}

func TestOrder_BalancedWeighsUptimeLatencyAndCost(t *testing.T) {
	snapshot := map[string]health.Aggregate{
		"fast":   {Uptime: 0.99, AvgLatencyMs: 50},
		"cheap":  {Uptime: 0.99, AvgLatencyMs: 1900},
	}
	params := Params{
		MinUptime:    DefaultMinUptime,
		Weights:      DefaultWeights,
		CostPerToken: map[string]float64{"fast": 0.008, "cheap": 0.0001},
	}

	order := Order([]string{"fast", "cheap"}, snapshot, Balanced, params)
	assert.Equal(t, []string{"fast", "cheap"}, order, "latency weight of 0.4 should outweigh cheap's cost edge")
}

func TestOrder_UnknownPolicyFallsBackToBalanced(t *testing.T) {
	snapshot := map[string]health.Aggregate{
		"openai":    {Uptime: 0.99, AvgLatencyMs: 100},
		"anthropic": {Uptime: 0.5, AvgLatencyMs: 100},
	}

	balanced := Order([]string{"openai", "anthropic"}, snapshot, Balanced, DefaultParams())
	unknown := Order([]string{"openai", "anthropic"}, snapshot, "nonexistent-policy", DefaultParams())
	assert.Equal(t, balanced, unknown)
}

func TestOrder_FiltersBelowMinUptimeFloor(t *testing.T) {
	snapshot := map[string]health.Aggregate{
		"openai":    {Uptime: 0.99, AvgLatencyMs: 100},
		"anthropic": {Uptime: 0.10, AvgLatencyMs: 50},
	}

	order := Order([]string{"openai", "anthropic"}, snapshot, PerformanceFirst, DefaultParams())
	assert.Equal(t, []string{"openai"}, order, "anthropic is below the uptime floor and should be dropped")
}

func TestOrder_FailsOpenWhenAllBelowUptimeFloor(t *testing.T) {
	snapshot := map[string]health.Aggregate{
		"openai":    {Uptime: 0.10, AvgLatencyMs: 500},
		"anthropic": {Uptime: 0.05, AvgLatencyMs: 100},
	}

	order := Order([]string{"openai", "anthropic"}, snapshot, PerformanceFirst, DefaultParams())
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, order, "filtering must fail open rather than return nothing")
}

func TestOrder_DoesNotMutateInputSlice(t *testing.T) {
	candidates := []string{"openai", "anthropic"}
	snapshot := map[string]health.Aggregate{
		"openai":    {Uptime: 0.99, AvgLatencyMs: 500},
		"anthropic": {Uptime: 0.99, AvgLatencyMs: 100},
	}

	_ = Order(candidates, snapshot, PerformanceFirst, DefaultParams())
	assert.Equal(t, []string{"openai", "anthropic"}, candidates, "Order must not mutate its input slice in place")
}

func TestDefaultParams_MatchesSpecDefaults(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, DefaultMinUptime, p.MinUptime)
	assert.Equal(t, Weights{Uptime: 0.3, Latency: 0.4, Cost: 0.3}, p.Weights)
}
