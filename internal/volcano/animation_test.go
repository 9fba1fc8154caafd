package volcano

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBrightness_Breathe(t *testing.T) {
	// GOAL: breathe stays within 0..100 and reverses exactly at the bounds
	//
	// TEST SCENARIO: start at 0 going up → run many ticks → every value in range,
	// direction flips only on ticks that reach 0 or 100

	b, dir := 0, 1
	sawTop, sawBottom := false, false

	for i := 0; i < 200; i++ {
		next, nextDir := NextBrightness(PatternBreathe, b, dir)

		require.GreaterOrEqual(t, next, MinBrightness, "tick %d MUST NOT go below 0", i)
		require.LessOrEqual(t, next, MaxBrightness, "tick %d MUST NOT exceed 100", i)

		atBound := next == MinBrightness || next == MaxBrightness
		if nextDir != dir {
			require.True(t, atBound, "direction MUST only reverse at a bound (tick %d, value %d)", i, next)
		} else {
			require.False(t, atBound, "direction MUST reverse on reaching a bound (tick %d)", i)
		}

		if next == MaxBrightness {
			sawTop = true
		}
		if next == MinBrightness {
			sawBottom = true
		}
		b, dir = next, nextDir
	}

	assert.True(t, sawTop)
	assert.True(t, sawBottom)
}

func TestNextBrightness_Sequences(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		start   int
		want    []int
	}{
		{name: "breathe rises then turns", pattern: PatternBreathe, start: 88, want: []int{96, 100, 92, 84}},
		{name: "ascend wraps to zero", pattern: PatternAscend, start: 88, want: []int{96, 100, 0, 8}},
		{name: "descend wraps to full", pattern: PatternDescend, start: 12, want: []int{4, 0, 100, 92}},
		{name: "blink toggles", pattern: PatternBlink, start: 70, want: []int{100, 0, 100, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, dir := tt.start, 1
			var got []int
			for range tt.want {
				b, dir = NextBrightness(tt.pattern, b, dir)
				got = append(got, b)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern(" Breathe ")
	require.NoError(t, err)
	assert.Equal(t, PatternBreathe, p)

	p, err = ParsePattern("none")
	require.NoError(t, err)
	assert.Equal(t, PatternNone, p)

	_, err = ParsePattern("strobe")
	assert.ErrorContains(t, err, "unknown animation pattern")
}

func TestPatternInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, PatternBlink.Interval())
	assert.Equal(t, 100*time.Millisecond, PatternBreathe.Interval())
	assert.Equal(t, 100*time.Millisecond, PatternAscend.Interval())
	assert.Equal(t, 100*time.Millisecond, PatternDescend.Interval())
}

func TestReconnectBackoff(t *testing.T) {
	var got []time.Duration
	for attempt := 0; attempt < 6; attempt++ {
		got = append(got, ReconnectBackoff(attempt, 30*time.Second))
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}, got)

	assert.Equal(t, 30*time.Second, ReconnectBackoff(62, 30*time.Second))
}
