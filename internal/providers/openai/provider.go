package openai

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/agentx/agentx-cli/internal/llm"
)

// Factory opens chat sessions against any OpenAI-compatible endpoint,
// including Gemini's compatibility surface when BaseURL points at it.
type Factory struct {
	client *openai.Client
}

// Config holds the connection settings for a factory
type Config struct {
	APIKey  string
	BaseURL string
}

// NewFactory creates a session factory
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Factory{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// NewSession opens a session. The chat protocol is stateless on the wire, so
// the session accumulates messages locally and replays them per send.
func (f *Factory) NewSession(ctx context.Context, cfg llm.SessionConfig) (llm.Session, error) {
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}

	session := &Session{client: f.client, cfg: cfg}
	if cfg.SystemInstruction != "" {
		session.messages = append(session.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cfg.SystemInstruction,
		})
	}
	return session, nil
}

// Session is one conversation against an OpenAI-compatible endpoint
type Session struct {
	client   *openai.Client
	cfg      llm.SessionConfig
	messages []openai.ChatCompletionMessage
}

// Config returns the session configuration
func (s *Session) Config() llm.SessionConfig {
	return s.cfg
}

// Send appends the content to the conversation and requests a completion
func (s *Session) Send(ctx context.Context, content llm.Content) (*llm.Reply, error) {
	s.appendContent(content)

	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    s.messages,
		Temperature: s.cfg.Generation.Temperature,
		TopP:        s.cfg.Generation.TopP,
		Tools:       s.convertTools(),
	}
	if s.cfg.Generation.MaxOutputTokens > 0 {
		req.MaxTokens = s.cfg.Generation.MaxOutputTokens
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion response")
	}

	choice := resp.Choices[0]
	s.messages = append(s.messages, choice.Message)

	reply := &llm.Reply{
		Text: choice.Message.Content,
		Usage: &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return reply, nil
}

// appendContent converts a Content payload into wire messages
func (s *Session) appendContent(content llm.Content) {
	if content.Text != "" {
		s.messages = append(s.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: content.Text,
		})
	}
	for _, result := range content.ToolResults {
		s.messages = append(s.messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result.Output,
			Name:       result.Name,
			ToolCallID: result.CallID,
		})
	}
}

// convertTools maps the session's tool definitions to the wire format
func (s *Session) convertTools() []openai.Tool {
	if len(s.cfg.Tools) == 0 {
		return nil
	}
	tools := make([]openai.Tool, len(s.cfg.Tools))
	for i, def := range s.cfg.Tools {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		}
	}
	return tools
}
