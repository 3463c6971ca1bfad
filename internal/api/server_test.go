package api

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx-cli/internal/llm"
	"github.com/agentx/agentx-cli/internal/store"
)

type stubStatus struct {
	summary llm.SessionCostSummary
	context int
	count   int
}

func (s *stubStatus) CostSummary() llm.SessionCostSummary { return s.summary }
func (s *stubStatus) ContextEstimate() int                { return s.context }
func (s *stubStatus) CompressionCount() int               { return s.count }

type stubTotals struct {
	totals []store.UsageTotals
}

func (s *stubTotals) Totals() ([]store.UsageTotals, error) { return s.totals, nil }

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&stubStatus{}, nil)

	resp, err := srv.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "healthy", payload["status"])
}

func TestUsageSummaryEndpoint(t *testing.T) {
	status := &stubStatus{
		summary: llm.SessionCostSummary{
			ConversationCount: 4,
			TotalInputTokens:  1000,
			TotalOutputTokens: 250,
			TotalTokens:       1250,
			TotalCost:         0.0003,
		},
	}
	totals := &stubTotals{totals: []store.UsageTotals{
		{Model: "gemini-2.5-flash", TotalTokens: 1250, TotalCost: 0.0003},
	}}
	srv := NewServer(status, totals)

	resp, err := srv.app.Test(httptest.NewRequest("GET", "/v1/usage/summary", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload struct {
		Session struct {
			ConversationCount int     `json:"conversation_count"`
			TotalTokens       int     `json:"total_tokens"`
			TotalCost         float64 `json:"total_cost"`
		} `json:"session"`
		AllTime []store.UsageTotals `json:"all_time"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 4, payload.Session.ConversationCount)
	assert.Equal(t, 1250, payload.Session.TotalTokens)
	require.Len(t, payload.AllTime, 1)
	assert.Equal(t, "gemini-2.5-flash", payload.AllTime[0].Model)
}

func TestUsageSummaryWithoutStore(t *testing.T) {
	srv := NewServer(&stubStatus{}, nil)

	resp, err := srv.app.Test(httptest.NewRequest("GET", "/v1/usage/summary", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Contains(t, payload, "session")
	assert.NotContains(t, payload, "all_time")
}

func TestSessionEndpoint(t *testing.T) {
	srv := NewServer(&stubStatus{context: 12345, count: 2}, nil)

	resp, err := srv.app.Test(httptest.NewRequest("GET", "/v1/session", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload struct {
		ContextTokens    int `json:"context_tokens"`
		CompressionCount int `json:"compression_count"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 12345, payload.ContextTokens)
	assert.Equal(t, 2, payload.CompressionCount)
}
