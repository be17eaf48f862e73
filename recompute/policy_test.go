package recompute

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixed(u float64) RandomSource {
	return func() float64 { return u }
}

func seeded(seed uint64) RandomSource {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func() float64 { return 1 - r.Float64() }
}

func TestShouldRecomputeThreshold(t *testing.T) {
	// with expected=1s and beta=1 the lead time is -ln(u) seconds,
	// so a 1s remaining TTL flips at u = 1/e.
	tests := []struct {
		name      string
		u         float64
		remaining time.Duration
		want      bool
	}{
		{name: "small draw triggers", u: 0.30, remaining: time.Second, want: true},
		{name: "large draw does not trigger", u: 0.50, remaining: time.Second, want: false},
		{name: "draw of one never triggers on live entry", u: 1, remaining: time.Nanosecond, want: false},
		{name: "zero draw is clamped and triggers", u: 0, remaining: time.Minute, want: true},
		{name: "negative draw is clamped", u: -3, remaining: time.Minute, want: true},
		{name: "draw above one is clamped", u: 7, remaining: time.Millisecond, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(time.Second, 1, WithRandom(fixed(tt.u)))
			require.Equal(t, tt.want, p.ShouldRecompute(tt.remaining))
		})
	}
}

func TestBetaScalesLeadTime(t *testing.T) {
	// -ln(0.5) ~ 0.693; beta=2 stretches that to ~1.386s.
	low := New(time.Second, 1, WithRandom(fixed(0.5)))
	high := New(time.Second, 2, WithRandom(fixed(0.5)))

	require.False(t, low.ShouldRecompute(time.Second))
	require.True(t, high.ShouldRecompute(time.Second))
}

func TestBetaZeroNeverTriggers(t *testing.T) {
	p := New(100*time.Millisecond, 0, WithRandom(fixed(1e-300)))

	for _, remaining := range []time.Duration{time.Nanosecond, time.Millisecond, 20 * time.Second} {
		require.False(t, p.ShouldRecompute(remaining))
	}
	require.Zero(t, p.Probability(time.Millisecond))
}

func TestNegativeBetaIsTreatedAsZero(t *testing.T) {
	p := New(time.Second, -1, WithRandom(fixed(1e-9)))

	require.Zero(t, p.Beta())
	require.False(t, p.ShouldRecompute(time.Millisecond))
}

func TestNearExpiryAlmostAlwaysTriggers(t *testing.T) {
	p := New(100*time.Millisecond, 1, WithRandom(seeded(1)))

	const trials = 10000
	hits := 0
	for i := 0; i < trials; i++ {
		if p.ShouldRecompute(time.Millisecond) {
			hits++
		}
	}

	require.Greater(t, float64(hits)/trials, 0.97)
}

func TestFreshEntryAlmostNeverTriggers(t *testing.T) {
	p := New(100*time.Millisecond, 1, WithRandom(seeded(2)))

	for i := 0; i < 10000; i++ {
		require.False(t, p.ShouldRecompute(20*time.Second))
	}
}

func TestEmpiricalRateMatchesProbability(t *testing.T) {
	tests := []struct {
		name      string
		expected  time.Duration
		beta      float64
		remaining time.Duration
	}{
		{name: "one scale left", expected: 100 * time.Millisecond, beta: 1, remaining: 100 * time.Millisecond},
		{name: "half scale left", expected: 200 * time.Millisecond, beta: 1, remaining: 100 * time.Millisecond},
		{name: "aggressive beta", expected: 100 * time.Millisecond, beta: 3, remaining: 500 * time.Millisecond},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.expected, tt.beta, WithRandom(seeded(uint64(i+10))))

			const trials = 20000
			hits := 0
			for n := 0; n < trials; n++ {
				if p.ShouldRecompute(tt.remaining) {
					hits++
				}
			}

			want := math.Exp(-tt.remaining.Seconds() / (tt.expected.Seconds() * tt.beta))
			require.InDelta(t, want, p.Probability(tt.remaining), 1e-12)
			require.InDelta(t, want, float64(hits)/trials, 0.02)
		})
	}
}

func TestProbabilityIsMonotonic(t *testing.T) {
	p := New(100*time.Millisecond, 1)

	prev := 1.0
	for remaining := time.Millisecond; remaining <= 2*time.Second; remaining += 50 * time.Millisecond {
		got := p.Probability(remaining)
		require.LessOrEqual(t, got, prev)
		prev = got
	}

	require.Equal(t, 1.0, p.Probability(0))
}

func TestObserve(t *testing.T) {
	t.Run("fixed policy ignores observations", func(t *testing.T) {
		p := New(100*time.Millisecond, 1)
		p.Observe(time.Second)
		require.Equal(t, 100*time.Millisecond, p.Expected())
	})

	t.Run("adaptive policy moves towards observations", func(t *testing.T) {
		p := New(100*time.Millisecond, 1, WithAdaptive(0.5))
		p.Observe(300 * time.Millisecond)
		require.Equal(t, 200*time.Millisecond, p.Expected())

		p.Observe(0)
		require.Equal(t, 200*time.Millisecond, p.Expected())
	})

	t.Run("out of range smoothing falls back to default", func(t *testing.T) {
		p := New(time.Second, 1, WithAdaptive(5))
		p.Observe(2 * time.Second)
		require.InDelta(t, float64(1200*time.Millisecond), float64(p.Expected()), float64(time.Microsecond))
	})
}

func TestDefaultRandomStaysInRange(t *testing.T) {
	for i := 0; i < 100000; i++ {
		u := defaultRandom()
		require.Greater(t, u, 0.0)
		require.LessOrEqual(t, u, 1.0)
	}
}
