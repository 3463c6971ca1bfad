package llm

import (
	"sync"
	"time"
)

// ModelPricing holds per-model prices in USD per million tokens
type ModelPricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// DefaultPricingModel is the pricing entry used when a model is unknown
const DefaultPricingModel = "gemini-2.5-flash"

// DefaultPricing covers the models this tool is normally pointed at.
// Config may override or extend it.
var DefaultPricing = map[string]ModelPricing{
	"gemini-2.5-flash": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o-mini":      {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":           {InputPerMillion: 2.50, OutputPerMillion: 10.00},
}

// RecordSink receives each usage record as it is created, e.g. for
// persistence. Sink errors are the sink's problem, not the accountant's.
type RecordSink interface {
	Append(record TokenUsageRecord) error
}

// CostAccountant accumulates token usage and cost across a session and feeds
// completed requests into the usage meter.
type CostAccountant struct {
	pricing map[string]ModelPricing
	meter   *UsageMeter
	sink    RecordSink

	totalInputTokens  int
	totalOutputTokens int
	totalCost         float64
	conversationCount int
	sessionStart      time.Time

	now func() time.Time
	mu  sync.Mutex
}

// NewCostAccountant creates an accountant over the given pricing table.
// A nil or empty table uses the defaults.
func NewCostAccountant(pricing map[string]ModelPricing, meter *UsageMeter) *CostAccountant {
	if len(pricing) == 0 {
		pricing = DefaultPricing
	}
	a := &CostAccountant{
		pricing: pricing,
		meter:   meter,
		now:     time.Now,
	}
	a.sessionStart = a.now()
	return a
}

// SetRecordSink attaches an optional persistence sink
func (a *CostAccountant) SetRecordSink(sink RecordSink) {
	a.sink = sink
}

// TrackUsage folds one response's usage metadata into the running totals and
// records the request with the usage meter. Returns nil when the response
// carried no usage metadata.
func (a *CostAccountant) TrackUsage(usage *Usage, model string) *TokenUsageRecord {
	if usage == nil {
		return nil
	}

	pricing, ok := a.pricing[model]
	if !ok {
		pricing = a.pricing[DefaultPricingModel]
	}

	inputCost := float64(usage.PromptTokens) / 1_000_000 * pricing.InputPerMillion
	outputCost := float64(usage.CompletionTokens) / 1_000_000 * pricing.OutputPerMillion

	a.mu.Lock()
	a.totalInputTokens += usage.PromptTokens
	a.totalOutputTokens += usage.CompletionTokens
	a.totalCost += inputCost + outputCost
	a.conversationCount++
	record := TokenUsageRecord{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.PromptTokens + usage.CompletionTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
		Model:        model,
		Timestamp:    a.now(),
	}
	a.mu.Unlock()

	if a.meter != nil {
		a.meter.RecordRequest(record.TotalTokens)
	}
	if a.sink != nil {
		_ = a.sink.Append(record)
	}

	return &record
}

// SessionSummary computes the session totals and derived rates on demand
func (a *CostAccountant) SessionSummary() SessionCostSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := a.now().Sub(a.sessionStart)
	summary := SessionCostSummary{
		TotalInputTokens:  a.totalInputTokens,
		TotalOutputTokens: a.totalOutputTokens,
		TotalTokens:       a.totalInputTokens + a.totalOutputTokens,
		TotalCost:         a.totalCost,
		ConversationCount: a.conversationCount,
		Elapsed:           elapsed,
		ElapsedMinutes:    elapsed.Minutes(),
	}
	if elapsed > 0 {
		summary.CostPerMinute = a.totalCost / elapsed.Minutes()
	}
	return summary
}
