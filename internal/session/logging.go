package session

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentx/agentx-cli/internal/llm"
)

// LogSink renders core events as structured log entries. It is the default
// presentation for the core's observability surface; the core itself never
// touches the terminal.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink over the given logger
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) ThrottleWait(decision llm.RateDecision) {
	s.logger.WithFields(logrus.Fields{
		"reason":       decision.Reason,
		"wait_seconds": decision.WaitSeconds,
	}).Warn("rate limiting")
}

func (s *LogSink) RetryAttempt(class string, attempt, maxAttempts int, delay time.Duration, err error) {
	s.logger.WithFields(logrus.Fields{
		"class":   class,
		"attempt": attempt,
		"max":     maxAttempts,
		"delay":   delay.String(),
		"error":   err.Error(),
	}).Warn("retrying call")
}

func (s *LogSink) CompressionTriggered(count int, priorTokens int) {
	s.logger.WithFields(logrus.Fields{
		"compression":  count,
		"prior_tokens": priorTokens,
	}).Info("conversation compressed")
}

func (s *LogSink) CallUsage(record llm.TokenUsageRecord) {
	s.logger.WithFields(logrus.Fields{
		"model":  record.Model,
		"tokens": record.TotalTokens,
		"cost":   record.TotalCost,
	}).Debug("call usage")
}
