// ABOUTME: Tests for the per-run usage collector
// ABOUTME: Verifies arrival order, duplicate retention, copying and totals

package usage

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_PreservesOrderAndDuplicates(t *testing.T) {
	c := NewCollector()
	first := Record{InputTokens: 10, OutputTokens: 5}
	second := Record{InputTokens: 3, OutputTokens: 7}

	c.Append(first)
	c.Append(second)
	c.Append(first)

	require.Equal(t, 3, c.Len())
	assert.Equal(t, []Record{first, second, first}, c.Records())
}

func TestCollector_RecordsReturnsCopy(t *testing.T) {
	c := NewCollector()
	c.Append(Record{InputTokens: 1})

	got := c.Records()
	got[0].InputTokens = 99

	assert.Equal(t, int64(1), c.Records()[0].InputTokens)
}

func TestCollector_Totals(t *testing.T) {
	c := NewCollector()
	c.Append(Record{
		InputTokens:       100,
		OutputTokens:      20,
		InputTokenDetails: &InputDetails{CacheRead: 40, CacheCreation: 10},
	})
	c.Append(Record{
		InputTokens:        5,
		OutputTokens:       50,
		OutputTokenDetails: &OutputDetails{Reasoning: 8},
	})

	tot := c.Totals()
	assert.Equal(t, int64(105), tot.InputTokens)
	assert.Equal(t, int64(70), tot.OutputTokens)
	assert.Equal(t, int64(40), tot.CacheRead)
	assert.Equal(t, int64(10), tot.CacheCreation)
	assert.Equal(t, int64(8), tot.Reasoning)
	assert.Equal(t, 2, tot.Records)
	assert.Equal(t, int64(183), tot.Total())
}

func TestCollector_ConcurrentAppend(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Append(Record{InputTokens: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
	assert.Equal(t, int64(50), c.Totals().InputTokens)
}

func TestRecord_DecodesUsageMetadata(t *testing.T) {
	raw := `{"input_tokens":12,"output_tokens":4,"total_tokens":16,"input_token_details":{"cache_read":2}}`

	var r Record
	require.NoError(t, json.Unmarshal([]byte(raw), &r))

	assert.Equal(t, int64(12), r.InputTokens)
	assert.Equal(t, int64(16), r.TotalTokens)
	assert.Equal(t, int64(2), r.CacheRead())
	assert.Equal(t, int64(0), r.CacheCreation())
	assert.Equal(t, int64(0), r.Reasoning())
}
