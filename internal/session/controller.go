package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentx/agentx-cli/internal/llm"
	"github.com/agentx/agentx-cli/internal/tools"
)

// DefaultMaxToolRounds caps nested tool round-trips inside one turn
const DefaultMaxToolRounds = 25

// Options configures a controller
type Options struct {
	Model             string
	SystemInstruction string
	Generation        llm.GenerationConfig
	SafetySettings    map[string]string
	MaxToolRounds     int

	Meter      llm.MeterConfig
	Caller     llm.CallerConfig
	Pricing    map[string]llm.ModelPricing
	Threshold  int
	RecordSink llm.RecordSink
}

// Controller owns one live session and all of its admission-control state:
// usage meter, cost accountant, conversation tracker, compressor and the
// retrying caller. One controller, one session, strictly sequential turns.
type Controller struct {
	opts     Options
	factory  llm.SessionFactory
	registry *tools.Registry
	logger   *logrus.Logger

	meter      *llm.UsageMeter
	accountant *llm.CostAccountant
	tracker    *llm.ConversationTracker
	compressor *llm.ContextCompressor
	caller     *llm.RetryingCaller

	session llm.Session
}

// NewController wires the core components around a session factory and a
// function registry. Nothing here is a package-level singleton; every piece
// of per-session state lives on the controller.
func NewController(opts Options, factory llm.SessionFactory, registry *tools.Registry, logger *logrus.Logger) *Controller {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if logger == nil {
		logger = logrus.New()
	}

	meter := llm.NewUsageMeter(opts.Meter)
	accountant := llm.NewCostAccountant(opts.Pricing, meter)
	if opts.RecordSink != nil {
		accountant.SetRecordSink(opts.RecordSink)
	}
	tracker := llm.NewConversationTracker(opts.Threshold)
	compressor := llm.NewContextCompressor(factory, registry)
	caller := llm.NewRetryingCaller(opts.Caller, meter, accountant, tracker, compressor)

	sink := NewLogSink(logger)
	meter.SetEventSink(sink)
	compressor.SetEventSink(sink)
	caller.SetEventSink(sink)

	return &Controller{
		opts:       opts,
		factory:    factory,
		registry:   registry,
		logger:     logger,
		meter:      meter,
		accountant: accountant,
		tracker:    tracker,
		compressor: compressor,
		caller:     caller,
	}
}

// startupContext probes the optional board capabilities so a fresh session
// starts with whatever plan state already exists. Missing capabilities and
// failing tools are skipped, never fatal.
func (c *Controller) startupContext(ctx context.Context) string {
	var parts []string
	for _, capability := range []string{llm.CapabilityCurrentPlan, llm.CapabilityWorkContext} {
		if c.registry == nil || !c.registry.Has(capability) {
			continue
		}
		result, err := c.registry.Dispatch(ctx, capability, nil)
		if err != nil {
			c.logger.WithError(err).WithField("capability", capability).Debug("startup probe failed")
			continue
		}
		if result != "" {
			parts = append(parts, result)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Start opens the initial session
func (c *Controller) Start(ctx context.Context) error {
	instruction := c.opts.SystemInstruction
	if startup := c.startupContext(ctx); startup != "" {
		instruction = instruction + "\n\nCURRENT WORK STATE:\n" + startup
	}

	cfg := llm.SessionConfig{
		Model:             c.opts.Model,
		SystemInstruction: instruction,
		Generation:        c.opts.Generation,
		SafetySettings:    c.opts.SafetySettings,
	}
	if c.registry != nil {
		cfg.Tools = c.registry.Definitions()
	}

	session, err := c.factory.NewSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	c.session = session
	return nil
}

// RunTurn processes one user turn: the initial send (with pre-flight
// compression), then tool round-trips until the model produces a final
// text. Every error is returned as a value for the loop to report; nothing
// in here takes the session down.
func (c *Controller) RunTurn(ctx context.Context, input string) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("session not started")
	}

	c.tracker.AddMessage("user", input, nil, 0)

	reply, session, err := c.caller.CallWithCompression(ctx, c.session, llm.Content{Text: input})
	c.session = session
	if err != nil {
		return "", err
	}
	c.trackReply(reply)

	for round := 0; len(reply.ToolCalls) > 0; round++ {
		if round >= c.opts.MaxToolRounds {
			return "", fmt.Errorf("tool loop exceeded %d rounds", c.opts.MaxToolRounds)
		}

		results := c.dispatchToolCalls(ctx, reply.ToolCalls)

		reply, err = c.caller.Call(ctx, c.session, llm.Content{ToolResults: results})
		if err != nil {
			return "", err
		}
		c.trackReply(reply)
	}

	return reply.Text, nil
}

// dispatchToolCalls runs each requested tool. A failing tool is reported
// back to the model as a function-response payload, not surfaced as a turn
// error: the model decides how to react.
func (c *Controller) dispatchToolCalls(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		var output string
		if c.registry == nil || !c.registry.Has(call.Name) {
			output = fmt.Sprintf("Unknown function: %s", call.Name)
		} else {
			result, err := c.registry.Dispatch(ctx, call.Name, call.Arguments)
			if err != nil {
				output = fmt.Sprintf("Error executing %s: %v", call.Name, err)
				c.logger.WithError(err).WithField("tool", call.Name).Warn("tool execution failed")
			} else {
				output = result
			}
		}
		results = append(results, llm.ToolResult{CallID: call.ID, Name: call.Name, Output: output})
	}
	return results
}

// trackReply folds a model reply into the conversation tracker
func (c *Controller) trackReply(reply *llm.Reply) {
	if reply == nil {
		return
	}
	tokens := 0
	if reply.Usage != nil {
		tokens = reply.Usage.TotalTokens
	}
	c.tracker.AddMessage("assistant", reply.Text, reply.ToolCalls, tokens)
}

// CostSummary returns the session cost summary
func (c *Controller) CostSummary() llm.SessionCostSummary {
	return c.accountant.SessionSummary()
}

// ContextEstimate returns the tracker's current context estimate
func (c *Controller) ContextEstimate() int {
	return c.tracker.ContextEstimate()
}

// CompressionCount returns how many compressions have happened
func (c *Controller) CompressionCount() int {
	return c.compressor.CompressionCount()
}
