package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentx/agentx-cli/internal/config"
	"github.com/agentx/agentx-cli/internal/store"
)

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show stored token usage grouped by model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Store.Path, uuid.NewString())
			if err != nil {
				return err
			}
			defer st.Close()

			totals, err := st.Totals()
			if err != nil {
				return err
			}
			if len(totals) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tCOST")
			for _, t := range totals {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t$%.6f\n",
					t.Model, t.RequestCount, t.PromptTokens, t.CompletionTokens, t.TotalTokens, t.TotalCost)
			}
			return w.Flush()
		},
	}
}
