package llm

import "time"

// EventSink receives structured events from the core. The core never writes
// to a terminal directly; presentation decides what to do with these.
type EventSink interface {
	ThrottleWait(decision RateDecision)
	RetryAttempt(class string, attempt, maxAttempts int, delay time.Duration, err error)
	CompressionTriggered(count int, priorTokens int)
	CallUsage(record TokenUsageRecord)
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) ThrottleWait(RateDecision)                           {}
func (NopSink) RetryAttempt(string, int, int, time.Duration, error) {}
func (NopSink) CompressionTriggered(int, int)                       {}
func (NopSink) CallUsage(TokenUsageRecord)                          {}
