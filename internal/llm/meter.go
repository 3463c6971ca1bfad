package llm

import (
	"context"
	"fmt"
	"time"
)

// Default quota limits, tunable via MeterConfig
const (
	DefaultMaxRequestsPerMinute = 60
	DefaultMaxTokensPerMinute   = 1_000_000
)

const meterWindow = time.Minute

// MeterConfig configures a UsageMeter
type MeterConfig struct {
	MaxRequestsPerMinute int
	MaxTokensPerMinute   int
}

// tokenSample is one recorded request's token count with its timestamp
type tokenSample struct {
	at     time.Time
	tokens int
}

// UsageMeter tracks request count and token volume over a rolling one-minute
// window and decides how long to wait before the next call. It is advisory
// only: it never rejects, it only recommends a delay.
type UsageMeter struct {
	maxRequests int
	maxTokens   int

	requestTimes []time.Time
	tokenHistory []tokenSample
	lastRequest  time.Time

	sink EventSink
	now  func() time.Time
}

// NewUsageMeter creates a usage meter with the given limits. Zero or negative
// limits fall back to the defaults.
func NewUsageMeter(cfg MeterConfig) *UsageMeter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = DefaultMaxRequestsPerMinute
	}
	if cfg.MaxTokensPerMinute <= 0 {
		cfg.MaxTokensPerMinute = DefaultMaxTokensPerMinute
	}
	return &UsageMeter{
		maxRequests: cfg.MaxRequestsPerMinute,
		maxTokens:   cfg.MaxTokensPerMinute,
		sink:        NopSink{},
		now:         time.Now,
	}
}

// SetEventSink routes throttle events to the given sink
func (m *UsageMeter) SetEventSink(sink EventSink) {
	if sink != nil {
		m.sink = sink
	}
}

// adaptiveWait maps a usage ratio to a recommended wait. Flat below 0.66,
// linear to 0.5s at 0.80, linear to 2.0s at 0.90, then quadratic up to 10s
// at full utilization and beyond. Monotonic non-decreasing in the ratio.
func adaptiveWait(ratio float64) float64 {
	switch {
	case ratio < 0.66:
		return 0
	case ratio < 0.80:
		return (ratio - 0.66) / 0.14 * 0.5
	case ratio < 0.90:
		return 0.5 + (ratio-0.80)/0.10*1.5
	default:
		excess := (ratio - 0.90) / 0.10
		return 2.0 + excess*excess*8.0
	}
}

// purge drops window entries older than one minute
func (m *UsageMeter) purge(now time.Time) {
	cutoff := now.Add(-meterWindow)

	kept := m.requestTimes[:0]
	for _, t := range m.requestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.requestTimes = kept

	keptTokens := m.tokenHistory[:0]
	for _, s := range m.tokenHistory {
		if s.at.After(cutoff) {
			keptTokens = append(keptTokens, s)
		}
	}
	m.tokenHistory = keptTokens
}

// ShouldRateLimit purges the window and decides whether the next call should
// wait. estimatedTokens is added to the recent token sum so a large outgoing
// request is throttled before it lands on the quota. The query itself records
// nothing; calling it twice at the same instant yields the same decision.
func (m *UsageMeter) ShouldRateLimit(estimatedTokens int) RateDecision {
	now := m.now()
	m.purge(now)

	currentRequests := len(m.requestTimes)
	recentTokens := 0
	for _, s := range m.tokenHistory {
		recentTokens += s.tokens
	}
	projectedTokens := recentTokens + estimatedTokens

	requestWait := adaptiveWait(float64(currentRequests) / float64(m.maxRequests))
	tokenWait := adaptiveWait(float64(projectedTokens) / float64(m.maxTokens))

	requiredWait := requestWait
	if tokenWait > requiredWait {
		requiredWait = tokenWait
	}
	if requiredWait <= 0 {
		return RateDecision{}
	}

	elapsed := now.Sub(m.lastRequest).Seconds()
	if elapsed >= requiredWait {
		return RateDecision{}
	}

	remaining := requiredWait - elapsed
	var reason string
	if tokenWait > requestWait {
		reason = fmt.Sprintf("token usage at %.1f%% (%d/%d)",
			float64(projectedTokens)/float64(m.maxTokens)*100, projectedTokens, m.maxTokens)
	} else {
		reason = fmt.Sprintf("request rate at %.1f%% (%d/%d)",
			float64(currentRequests)/float64(m.maxRequests)*100, currentRequests, m.maxRequests)
	}

	return RateDecision{
		Throttle:    true,
		Reason:      reason,
		WaitSeconds: remaining,
		Wait:        time.Duration(remaining * float64(time.Second)),
	}
}

// RecordRequest records a completed request and its token count
func (m *UsageMeter) RecordRequest(tokens int) {
	now := m.now()
	m.requestTimes = append(m.requestTimes, now)
	if tokens > 0 {
		m.tokenHistory = append(m.tokenHistory, tokenSample{at: now, tokens: tokens})
	}
	m.lastRequest = now
}

// CurrentRequests returns the request count inside the current window
func (m *UsageMeter) CurrentRequests() int {
	m.purge(m.now())
	return len(m.requestTimes)
}

// RecentTokens returns the token sum inside the current window
func (m *UsageMeter) RecentTokens() int {
	m.purge(m.now())
	total := 0
	for _, s := range m.tokenHistory {
		total += s.tokens
	}
	return total
}

// WaitIfNeeded blocks until the meter clears the next call or the context is
// cancelled
func (m *UsageMeter) WaitIfNeeded(ctx context.Context) error {
	decision := m.ShouldRateLimit(0)
	if !decision.Throttle {
		return nil
	}

	m.sink.ThrottleWait(decision)

	timer := time.NewTimer(decision.Wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
