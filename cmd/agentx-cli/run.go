package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentx/agentx-cli/internal/api"
	"github.com/agentx/agentx-cli/internal/config"
	"github.com/agentx/agentx-cli/internal/llm"
	"github.com/agentx/agentx-cli/internal/providers/openai"
	"github.com/agentx/agentx-cli/internal/session"
	"github.com/agentx/agentx-cli/internal/store"
	"github.com/agentx/agentx-cli/internal/tools"
)

const defaultSystemInstruction = `You are an AI assistant with access to tools.
Use them to help the user accomplish their goals. Keep a task plan current
while working on multi-step tasks.`

func newRunCmd() *cobra.Command {
	var (
		instructionPath string
		verbose         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Provider.APIKey == "" {
				return fmt.Errorf("no API key configured (set AGENTX_API_KEY or provider.api_key)")
			}

			logger := logrus.New()
			logger.SetLevel(logrus.WarnLevel)
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			factory, err := openai.NewFactory(openai.Config{
				APIKey:  cfg.Provider.APIKey,
				BaseURL: cfg.Provider.BaseURL,
			})
			if err != nil {
				return err
			}

			registry := tools.NewRegistry()
			tools.RegisterFilesystem(registry)
			tools.RegisterShell(registry)
			board := &tools.Board{
				BoardPath:   cfg.Workspace.BoardPath,
				JournalPath: cfg.Workspace.JournalPath,
			}
			board.Register(registry)

			usageStore, err := store.Open(cfg.Store.Path, uuid.NewString())
			if err != nil {
				return err
			}
			defer usageStore.Close()

			instruction := defaultSystemInstruction
			if instructionPath != "" {
				data, err := os.ReadFile(instructionPath)
				if err != nil {
					return fmt.Errorf("read system instruction: %w", err)
				}
				instruction = string(data)
			}

			ctrl := session.NewController(session.Options{
				Model:             cfg.Provider.Model,
				SystemInstruction: instruction,
				Meter: llm.MeterConfig{
					MaxRequestsPerMinute: cfg.Limits.RequestsPerMinute,
					MaxTokensPerMinute:   cfg.Limits.TokensPerMinute,
				},
				Caller:     callerConfig(cfg.Retry),
				Threshold:  cfg.Compression.TokenThreshold,
				RecordSink: usageStore,
			}, factory, registry, logger)

			ctx := cmd.Context()
			if err := ctrl.Start(ctx); err != nil {
				return err
			}

			if cfg.Status.Enabled {
				srv := api.NewServer(ctrl, usageStore)
				go func() {
					addr := fmt.Sprintf("%s:%d", cfg.Status.Host, cfg.Status.Port)
					if err := srv.Listen(addr); err != nil {
						logger.WithError(err).Warn("status server stopped")
					}
				}()
				defer srv.Shutdown()
			}

			fmt.Printf("agentx-cli %s: model %s, %d tools. Type 'exit' to quit.\n",
				version, cfg.Provider.Model, registry.Len())

			return repl(ctx, ctrl)
		},
	}

	cmd.Flags().StringVar(&instructionPath, "system", "", "path to a system instruction file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log throttle and retry activity")
	return cmd
}

// repl reads user turns from stdin until EOF or an exit command. Turn
// errors are reported and the loop continues; only input errors end it.
func repl(ctx context.Context, ctrl *session.Controller) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit", ":q":
			return nil
		case "tokens", "cost", "usage":
			printSummary(ctrl.CostSummary())
			continue
		case "session", "status":
			fmt.Printf("context: ~%d tokens, compressions: %d\n",
				ctrl.ContextEstimate(), ctrl.CompressionCount())
			continue
		}

		reply, err := ctrl.RunTurn(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Please wait a moment before trying again.")
			continue
		}
		fmt.Println(reply)
	}
}

func printSummary(s llm.SessionCostSummary) {
	fmt.Printf("conversations: %d\n", s.ConversationCount)
	fmt.Printf("tokens: %d in / %d out / %d total\n",
		s.TotalInputTokens, s.TotalOutputTokens, s.TotalTokens)
	fmt.Printf("cost: $%.6f ($%.6f/min over %.1f min)\n",
		s.TotalCost, s.CostPerMinute, s.ElapsedMinutes)
}

func callerConfig(r config.RetryConfig) llm.CallerConfig {
	return llm.CallerConfig{
		MaxAttempts: r.MaxAttempts,
		BackoffBase: secondsToDuration(r.BaseDelaySeconds),
		BackoffMax:  secondsToDuration(r.MaxDelaySeconds),
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
