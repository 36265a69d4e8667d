package extract

import (
	"slices"
	"sync"
	"time"
)

// Call is one chat completion as seen by the client.
type Call struct {
	Latency          time.Duration
	Failed           bool
	RateLimited      bool // HTTP 429 from the provider
	PromptTokens     int
	CompletionTokens int
}

type call struct {
	Call
	at time.Time
}

// StatsSnapshot aggregates the calls inside the stats window.
type StatsSnapshot struct {
	Count            int     `json:"count"`
	Failed           int     `json:"failed"`
	RateLimited      int     `json:"rate_limited"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	MinMs            int64   `json:"min_ms"`
	MaxMs            int64   `json:"max_ms"`
	AvgMs            float64 `json:"avg_ms"`
	P50Ms            float64 `json:"p50_ms"`
	P95Ms            float64 `json:"p95_ms"`
	P99Ms            float64 `json:"p99_ms"`
}

// LLMStats keeps the chat completions of a rolling window. It is safe for
// concurrent use; one instance is shared by every extraction of a process.
type LLMStats struct {
	mu     sync.Mutex
	calls  []call
	window time.Duration
	now    func() time.Time
}

// NewLLMStats keeps calls for window, one hour when window is not positive.
func NewLLMStats(window time.Duration) *LLMStats {
	if window <= 0 {
		window = time.Hour
	}
	return &LLMStats{
		calls:  make([]call, 0, 64),
		window: window,
		now:    time.Now,
	}
}

// Record adds one call. Negative latencies and token counts count as zero.
func (s *LLMStats) Record(c Call) {
	c.Latency = max(c.Latency, 0)
	c.PromptTokens = max(c.PromptTokens, 0)
	c.CompletionTokens = max(c.CompletionTokens, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)
	s.calls = append(s.calls, call{Call: c, at: now})
}

// Snapshot summarizes the calls still inside the window.
func (s *LLMStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(s.now())
	if len(s.calls) == 0 {
		return StatsSnapshot{}
	}

	var snap StatsSnapshot
	latencies := make([]int64, len(s.calls))
	var total int64
	for i, c := range s.calls {
		ms := c.Latency.Milliseconds()
		latencies[i] = ms
		total += ms
		if c.Failed {
			snap.Failed++
		}
		if c.RateLimited {
			snap.RateLimited++
		}
		snap.PromptTokens += c.PromptTokens
		snap.CompletionTokens += c.CompletionTokens
	}
	slices.Sort(latencies)

	snap.Count = len(latencies)
	snap.MinMs = latencies[0]
	snap.MaxMs = latencies[len(latencies)-1]
	snap.AvgMs = float64(total) / float64(len(latencies))
	snap.P50Ms = percentile(latencies, 50)
	snap.P95Ms = percentile(latencies, 95)
	snap.P99Ms = percentile(latencies, 99)
	return snap
}

// expireLocked drops calls older than the window. Calls are appended in time
// order, so the expired ones form a prefix.
func (s *LLMStats) expireLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.calls) && s.calls[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.calls = slices.Delete(s.calls, 0, i)
	}
}

// percentile interpolates linearly between the two closest ranks of sorted.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	rank := float64(len(sorted)-1) * pct / 100
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[lo+1]-sorted[lo])
}
