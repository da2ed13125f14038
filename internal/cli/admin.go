package cli

import (
	"github.com/spf13/cobra"
)

// NewReconcileCmd creates the 'reconcile' command.
func NewReconcileCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Retry missing store writes for partially completed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := NewClient(*addr).post("/api/reconcile", map[string]any{}, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

// NewHealthCmd creates the 'health' command.
func NewHealthCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon and store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := NewClient(*addr).get("/api/health", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
