package llm

import (
	"context"
	"fmt"
	"sync"
)

// StubReply is one scripted outcome for a StubSession send
type StubReply struct {
	Reply *Reply
	Err   error
}

// StubSession is a scripted session for testing and local development.
// Each Send consumes the next scripted outcome; once the script runs out it
// echoes the input.
type StubSession struct {
	cfg    SessionConfig
	script []StubReply
	sent   []Content
	mu     sync.Mutex
}

// NewStubSession creates a stub session with the given script
func NewStubSession(cfg SessionConfig, script ...StubReply) *StubSession {
	return &StubSession{cfg: cfg, script: script}
}

// Send consumes the next scripted outcome
func (s *StubSession) Send(ctx context.Context, content Content) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, content)
	if len(s.script) == 0 {
		return &Reply{Text: fmt.Sprintf("stub echo: %s", content.Text)}, nil
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next.Reply, next.Err
}

// Config returns the session configuration
func (s *StubSession) Config() SessionConfig {
	return s.cfg
}

// Sent returns everything sent so far, oldest first
func (s *StubSession) Sent() []Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Content(nil), s.sent...)
}

// StubFactory creates StubSessions with a shared script and remembers every
// config it was asked for.
type StubFactory struct {
	Script  []StubReply
	Err     error
	Created []SessionConfig
	mu      sync.Mutex
}

// NewSession opens a scripted stub session
func (f *StubFactory) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Created = append(f.Created, cfg)
	return NewStubSession(cfg, f.Script...), nil
}
