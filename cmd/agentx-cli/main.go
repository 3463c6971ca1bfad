package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// A missing .env is fine, exported variables still apply.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "agentx-cli",
		Short:   "Rate-aware LLM chat session with tool calling and context compression",
		Version: version,
	}

	root.AddCommand(
		newRunCmd(),
		newUsageCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
