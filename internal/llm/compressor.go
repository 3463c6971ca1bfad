package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Caps applied when rendering a compressed prompt. Oldest entries are
// dropped first; each kept item is clamped so the rendered prompt stays
// under a fixed size no matter how large the source history was.
const (
	maxCompletedTasks = 5
	maxKeyDiscoveries = 5
	maxActiveContext  = 3
	maxNextActions    = 3
	maxToolSummaries  = 5
	maxItemLength     = 200
	maxBoardSnapshot  = 2000
)

// Capability names probed on the function registry. Both are optional; a
// registry without them degrades to a prompt without board context.
const (
	CapabilityCurrentPlan = "display_current_plan"
	CapabilityWorkContext = "get_work_context"
)

const extractionPrompt = `Analyze this conversation history and extract the essential state information.
Focus on:
1. What the user is trying to accomplish (main goal)
2. Current task plan and progress
3. Key discoveries or important information found
4. Current status and next steps
5. Important tool results that need to be remembered

Return a JSON object with this structure:
{
    "user_goal": "clear description of what user wants to accomplish",
    "current_task_plan": {"goal": "...", "tasks": [...], "status": "..."},
    "completed_tasks": ["completed tasks with results"],
    "key_discoveries": ["important findings, facts, or insights"],
    "active_context": ["immediately relevant information for next steps"],
    "tool_results_summary": {"tool_name": "key results summary"},
    "current_step": "what we're doing right now",
    "next_actions": ["immediate next steps to take"]
}

Be concise but preserve all critical information needed to continue the work effectively.`

// extractedState is the expected shape of the model's compression response.
// Unknown fields are rejected: the model's output is untrusted and anything
// off-schema takes the fallback path.
type extractedState struct {
	UserGoal           string            `json:"user_goal"`
	CurrentTaskPlan    *TaskPlan         `json:"current_task_plan"`
	CompletedTasks     []string          `json:"completed_tasks"`
	KeyDiscoveries     []string          `json:"key_discoveries"`
	ActiveContext      []string          `json:"active_context"`
	ToolResultsSummary map[string]string `json:"tool_results_summary"`
	CurrentStep        string            `json:"current_step"`
	NextActions        []string          `json:"next_actions"`
}

// ContextCompressor replaces an oversized conversation with a bounded
// synthesized state and a fresh session, so the model-facing context never
// grows past the threshold while the work stays resumable.
type ContextCompressor struct {
	factory      SessionFactory
	capabilities CapabilityDispatcher
	sink         EventSink

	compressionCount int
	currentState     *ConversationState

	now func() time.Time
}

// NewContextCompressor creates a compressor. capabilities may be nil when no
// function registry is attached.
func NewContextCompressor(factory SessionFactory, capabilities CapabilityDispatcher) *ContextCompressor {
	return &ContextCompressor{
		factory:      factory,
		capabilities: capabilities,
		sink:         NopSink{},
		now:          time.Now,
	}
}

// SetEventSink routes compression events to the given sink
func (c *ContextCompressor) SetEventSink(sink EventSink) {
	if sink != nil {
		c.sink = sink
	}
}

// CompressionCount returns how many compressions this session has performed
func (c *ContextCompressor) CompressionCount() int {
	return c.compressionCount
}

// CurrentState returns the most recent compressed state, nil before the
// first compression
func (c *ContextCompressor) CurrentState() *ConversationState {
	return c.currentState
}

// newSessionID mints an id for a compressed state snapshot
func newSessionID() string {
	return "session_" + uuid.NewString()
}

// fallbackState is the minimal state used whenever extraction fails.
// Extraction failure must never abort the user's turn.
func (c *ContextCompressor) fallbackState(userGoal string) *ConversationState {
	if userGoal == "" {
		userGoal = "Continue previous work"
	}
	return &ConversationState{
		SessionID:   newSessionID(),
		UserGoal:    userGoal,
		CurrentStep: "Resuming after compression",
		Timestamp:   c.now(),
	}
}

// ExtractState asks the model for a structured summary of the conversation
// and validates it against the expected schema. Any failure, from the call
// itself to a single unknown field, degrades to the minimal fallback state.
func (c *ContextCompressor) ExtractState(ctx context.Context, session Session, userGoal string) *ConversationState {
	reply, err := session.Send(ctx, Content{Text: extractionPrompt})
	if err != nil || reply == nil {
		return c.fallbackState(userGoal)
	}

	text := strings.TrimSpace(reply.Text)
	// Models wrap JSON in fences more often than not
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	var extracted extractedState
	if err := dec.Decode(&extracted); err != nil {
		return c.fallbackState(userGoal)
	}

	goal := extracted.UserGoal
	if goal == "" {
		goal = userGoal
	}
	if goal == "" {
		goal = "Unknown goal"
	}

	return &ConversationState{
		SessionID:          newSessionID(),
		UserGoal:           goal,
		CurrentTaskPlan:    extracted.CurrentTaskPlan,
		CompletedTasks:     extracted.CompletedTasks,
		KeyDiscoveries:     extracted.KeyDiscoveries,
		ActiveContext:      extracted.ActiveContext,
		ToolResultsSummary: extracted.ToolResultsSummary,
		CurrentStep:        extracted.CurrentStep,
		NextActions:        extracted.NextActions,
		Timestamp:          c.now(),
	}
}

// clamp truncates an item to the per-item length cap
func clamp(s string) string {
	if len(s) > maxItemLength {
		return s[:maxItemLength] + "..."
	}
	return s
}

// lastN keeps the n most recent items of a list, dropping the oldest first
func lastN(items []string, n int) []string {
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return items
}

func writeList(b *strings.Builder, header string, items []string, limit int) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", header)
	for _, item := range lastN(items, limit) {
		fmt.Fprintf(b, "- %s\n", clamp(item))
	}
}

// CompressedPrompt deterministically renders the system instruction for the
// restarted session. Output size is bounded by a fixed constant regardless
// of how much history fed the state.
func (c *ContextCompressor) CompressedPrompt(state *ConversationState, boardSnapshot string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are continuing a work session from compressed state.\n\n")
	fmt.Fprintf(&b, "CURRENT SESSION STATE:\n")
	fmt.Fprintf(&b, "Session ID: %s\n", state.SessionID)
	fmt.Fprintf(&b, "Goal: %s\n", clamp(state.UserGoal))
	fmt.Fprintf(&b, "Current Step: %s\n", clamp(state.CurrentStep))

	if boardSnapshot != "" {
		if len(boardSnapshot) > maxBoardSnapshot {
			boardSnapshot = boardSnapshot[:maxBoardSnapshot] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "\nACTIVE TASK BOARD:\n%s\n", boardSnapshot)
	} else {
		fmt.Fprintf(&b, "\nNo active task plan found. Ready to create a new plan if needed.\n")
	}

	if state.CurrentTaskPlan != nil {
		fmt.Fprintf(&b, "\nCurrent Plan: %s\nPlan Status: %s\n",
			clamp(state.CurrentTaskPlan.Goal), clamp(state.CurrentTaskPlan.Status))
	}

	writeList(&b, "Completed Tasks", state.CompletedTasks, maxCompletedTasks)
	writeList(&b, "Key Discoveries", state.KeyDiscoveries, maxKeyDiscoveries)

	if len(state.ToolResultsSummary) > 0 {
		fmt.Fprintf(&b, "\nRecent Tool Results:\n")
		written := 0
		for _, tool := range sortedKeys(state.ToolResultsSummary) {
			if written >= maxToolSummaries {
				break
			}
			fmt.Fprintf(&b, "- %s: %s\n", tool, clamp(state.ToolResultsSummary[tool]))
			written++
		}
	}

	writeList(&b, "Active Context", state.ActiveContext, maxActiveContext)
	writeList(&b, "Planned Next Actions", state.NextActions, maxNextActions)

	fmt.Fprintf(&b, "\nINSTRUCTIONS:\n")
	fmt.Fprintf(&b, "- Continue working toward the goal: %s\n", clamp(state.UserGoal))
	fmt.Fprintf(&b, "- Use your full tool capabilities as needed\n")
	fmt.Fprintf(&b, "- Focus on immediate next steps while keeping the bigger picture in mind\n")
	fmt.Fprintf(&b, "\nThis is compression #%d. Previous conversation context has been compressed to preserve memory while maintaining essential state information.\n",
		c.compressionCount+1)

	return b.String()
}

// BoardSnapshot fetches the current task board from the function registry.
// Best effort: a missing capability or a failing tool yields an empty
// snapshot, never an error.
func (c *ContextCompressor) BoardSnapshot(ctx context.Context) string {
	if c.capabilities == nil || !c.capabilities.Has(CapabilityCurrentPlan) {
		return ""
	}
	snapshot, err := c.capabilities.Dispatch(ctx, CapabilityCurrentPlan, nil)
	if err != nil {
		return ""
	}
	return snapshot
}

// CompressAndRestart synthesizes a bounded state from the live session and
// opens a brand-new session with the same tools, generation parameters and
// safety settings, seeded with the compressed prompt as its system
// instruction. The old session is discarded, not edited. The caller must
// reset its ConversationTracker afterwards.
func (c *ContextCompressor) CompressAndRestart(ctx context.Context, session Session, userGoal string) (Session, *ConversationState, error) {
	boardSnapshot := c.BoardSnapshot(ctx)

	state := c.ExtractState(ctx, session, userGoal)

	cfg := session.Config()
	cfg.SystemInstruction = c.CompressedPrompt(state, boardSnapshot)

	newSession, err := c.factory.NewSession(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("restart session: %w", err)
	}

	c.compressionCount++
	c.currentState = state

	return newSession, state, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
