// Package recompute decides when a cached value should be refreshed ahead of
// its expiry.
//
// The decision follows the probabilistic early expiration scheme ("xfetch"):
// on every read a uniform draw u in (0, 1] is turned into a lead time
// -expected*beta*ln(u), and the entry is recomputed when that lead time reaches
// past the remaining TTL. The chance of an early refresh therefore grows as
// the entry ages, which spreads refreshes out instead of having every reader
// miss at the same instant.
package recompute

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

const (
	DefaultExpected  = 100 * time.Millisecond
	DefaultBeta      = 1.0
	DefaultSmoothing = 0.2
)

// RandomSource returns a uniform sample in (0, 1]. Samples outside that range
// are clamped.
type RandomSource func() float64

type Option func(*Policy)

func WithRandom(random RandomSource) Option {
	return func(p *Policy) {
		if random != nil {
			p.random = random
		}
	}
}

// WithAdaptive makes Observe feed an exponentially weighted moving average of
// fetch durations back into the expected recompute duration.
func WithAdaptive(smoothing float64) Option {
	return func(p *Policy) {
		if smoothing <= 0 || smoothing > 1 {
			smoothing = DefaultSmoothing
		}
		p.adaptive = true
		p.smoothing = smoothing
	}
}

type Policy struct {
	beta      float64
	expected  atomic.Int64
	random    RandomSource
	adaptive  bool
	smoothing float64
}

func New(expected time.Duration, beta float64, opts ...Option) *Policy {
	if beta < 0 {
		beta = 0
	}

	p := &Policy{
		beta:   beta,
		random: defaultRandom,
	}
	p.expected.Store(int64(expected))

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func defaultRandom() float64 {
	return 1 - rand.Float64()
}

// ShouldRecompute reports whether an entry with the given remaining lifetime
// should be refreshed now. Callers treat remaining <= 0 as a miss before
// asking.
func (p *Policy) ShouldRecompute(remaining time.Duration) bool {
	scale := p.scale()
	if scale <= 0 {
		return false
	}

	u := p.random()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	} else if u > 1 {
		u = 1
	}

	delta := scale * math.Log(u)

	return -delta >= remaining.Seconds()
}

// Probability is the closed form of ShouldRecompute: exp(-remaining/(expected*beta)).
func (p *Policy) Probability(remaining time.Duration) float64 {
	scale := p.scale()
	if scale <= 0 {
		return 0
	}
	if remaining <= 0 {
		return 1
	}

	return math.Exp(-remaining.Seconds() / scale)
}

func (p *Policy) Observe(took time.Duration) {
	if !p.adaptive || took <= 0 {
		return
	}

	for {
		current := p.expected.Load()
		next := int64(p.smoothing*float64(took) + (1-p.smoothing)*float64(current))
		if p.expected.CompareAndSwap(current, next) {
			return
		}
	}
}

func (p *Policy) Expected() time.Duration {
	return time.Duration(p.expected.Load())
}

func (p *Policy) Beta() float64 {
	return p.beta
}

func (p *Policy) scale() float64 {
	return time.Duration(p.expected.Load()).Seconds() * p.beta
}
