package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/agentx/agentx-cli/internal/llm"
	"github.com/agentx/agentx-cli/internal/store"
)

// SessionStatus exposes the live counters the status endpoints report.
type SessionStatus interface {
	CostSummary() llm.SessionCostSummary
	ContextEstimate() int
	CompressionCount() int
}

// TotalsReader reads persisted usage aggregates.
type TotalsReader interface {
	Totals() ([]store.UsageTotals, error)
}

// Server serves read-only status endpoints for a running session.
type Server struct {
	app    *fiber.App
	status SessionStatus
	totals TotalsReader
}

func NewServer(status SessionStatus, totals TotalsReader) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "agentx-cli status",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		app:    app,
		status: status,
		totals: totals,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "agentx-cli",
		})
	})

	v1 := s.app.Group("/v1")
	v1.Get("/usage/summary", s.usageSummary)
	v1.Get("/session", s.sessionStatus)
}

func (s *Server) usageSummary(c *fiber.Ctx) error {
	summary := s.status.CostSummary()

	resp := fiber.Map{
		"session": fiber.Map{
			"conversation_count":  summary.ConversationCount,
			"total_input_tokens":  summary.TotalInputTokens,
			"total_output_tokens": summary.TotalOutputTokens,
			"total_tokens":        summary.TotalTokens,
			"total_cost":          summary.TotalCost,
			"elapsed_minutes":     summary.ElapsedMinutes,
			"cost_per_minute":     summary.CostPerMinute,
		},
	}

	if s.totals != nil {
		totals, err := s.totals.Totals()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError,
				fmt.Sprintf("read usage totals: %v", err))
		}
		resp["all_time"] = totals
	}

	return c.JSON(resp)
}

func (s *Server) sessionStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"context_tokens":    s.status.ContextEstimate(),
		"compression_count": s.status.CompressionCount(),
	})
}

// Listen blocks serving on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
