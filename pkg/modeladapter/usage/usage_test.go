package usage_test

import (
	"sync"
	"testing"

	"github.com/germanamz/promode/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
)

func TestTokenCount_Total(t *testing.T) {
	tc := usage.TokenCount{InputTokens: 100, OutputTokens: 50, ReasoningTokens: 20}
	assert.Equal(t, 150, tc.Total())
	assert.Equal(t, "in=100 out=50 reasoning=20", tc.String())
}

func TestTracker_Last(t *testing.T) {
	var tr usage.Tracker

	_, ok := tr.Last()
	assert.False(t, ok)

	tr.Add(usage.TokenCount{InputTokens: 10, OutputTokens: 5})
	tr.Add(usage.TokenCount{InputTokens: 20, OutputTokens: 10, ReasoningTokens: 4})

	tc, ok := tr.Last()
	assert.True(t, ok)
	assert.Equal(t, usage.TokenCount{InputTokens: 20, OutputTokens: 10, ReasoningTokens: 4}, tc)
}

func TestTracker_TotalAndReset(t *testing.T) {
	var tr usage.Tracker

	assert.Equal(t, usage.TokenCount{}, tr.Total())

	tr.Add(usage.TokenCount{InputTokens: 10, OutputTokens: 5, ReasoningTokens: 1})
	tr.Add(usage.TokenCount{InputTokens: 20, OutputTokens: 10, ReasoningTokens: 2})
	assert.Equal(t, 2, tr.Count())
	assert.Equal(t, usage.TokenCount{InputTokens: 30, OutputTokens: 15, ReasoningTokens: 3}, tr.Total())

	tr.Reset()
	assert.Equal(t, 0, tr.Count())
	assert.Equal(t, usage.TokenCount{}, tr.Total())
}

func TestTracker_ConcurrentAdd(t *testing.T) {
	var tr usage.Tracker

	const goroutines = 50

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			tr.Add(usage.TokenCount{InputTokens: 1, OutputTokens: 1})
		})
	}
	wg.Wait()

	assert.Equal(t, goroutines, tr.Count())
	assert.Equal(t, goroutines, tr.Total().OutputTokens)
}
