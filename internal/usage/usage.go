// ABOUTME: Token usage records reported by the engine and their per-run collector
// ABOUTME: The collector is append-only and read once when the run is finalized

package usage

import "sync"

// InputDetails breaks input tokens down by cache behaviour.
type InputDetails struct {
	CacheRead     int64 `json:"cache_read,omitempty"`
	CacheCreation int64 `json:"cache_creation,omitempty"`
}

// OutputDetails breaks output tokens down by kind.
type OutputDetails struct {
	Reasoning int64 `json:"reasoning,omitempty"`
}

// Record is one usage report attached to a model-end event.
type Record struct {
	InputTokens        int64          `json:"input_tokens"`
	OutputTokens       int64          `json:"output_tokens"`
	TotalTokens        int64          `json:"total_tokens,omitempty"`
	InputTokenDetails  *InputDetails  `json:"input_token_details,omitempty"`
	OutputTokenDetails *OutputDetails `json:"output_token_details,omitempty"`
	Model              string         `json:"model,omitempty"`
}

// CacheRead returns the cache-read token count, or zero.
func (r Record) CacheRead() int64 {
	if r.InputTokenDetails == nil {
		return 0
	}
	return r.InputTokenDetails.CacheRead
}

// CacheCreation returns the cache-write token count, or zero.
func (r Record) CacheCreation() int64 {
	if r.InputTokenDetails == nil {
		return 0
	}
	return r.InputTokenDetails.CacheCreation
}

// Reasoning returns the reasoning token count, or zero.
func (r Record) Reasoning() int64 {
	if r.OutputTokenDetails == nil {
		return 0
	}
	return r.OutputTokenDetails.Reasoning
}

// Totals is the sum over every record a collector holds.
type Totals struct {
	InputTokens   int64 `json:"input_tokens"`
	OutputTokens  int64 `json:"output_tokens"`
	CacheRead     int64 `json:"cache_read"`
	CacheCreation int64 `json:"cache_creation"`
	Reasoning     int64 `json:"reasoning"`
	Records       int   `json:"records"`
}

// Total returns input plus output plus reasoning tokens.
func (t Totals) Total() int64 {
	return t.InputTokens + t.OutputTokens + t.Reasoning
}

// Collector accumulates usage records for a single run in arrival order.
// Records are never merged or dropped, even when two are identical.
type Collector struct {
	mu      sync.Mutex
	records []Record
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Append adds a record to the end of the collection.
func (c *Collector) Append(r Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

// Len returns the number of records collected so far.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Records returns a copy of the collected records in arrival order.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Totals sums the collected records.
func (c *Collector) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	var t Totals
	for _, r := range c.records {
		t.InputTokens += r.InputTokens
		t.OutputTokens += r.OutputTokens
		t.CacheRead += r.CacheRead()
		t.CacheCreation += r.CacheCreation()
		t.Reasoning += r.Reasoning()
	}
	t.Records = len(c.records)
	return t
}
