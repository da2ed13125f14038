package cli

import (
	"github.com/spf13/cobra"
)

// NewSessionCmd creates the 'session' command group.
func NewSessionCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage ingestion sessions",
	}
	cmd.AddCommand(newSessionGetCmd(addr))
	cmd.AddCommand(newSessionActiveCmd(addr))
	cmd.AddCommand(newSessionCancelCmd(addr))
	return cmd
}

func newSessionGetCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session with its per-item stage summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := NewClient(*addr).get("/api/sessions/"+args[0], &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newSessionActiveCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List sessions still accepting items",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := NewClient(*addr).get("/api/sessions/active", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newSessionCancelCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Stop scheduling new items for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := NewClient(*addr).delete("/api/sessions/"+args[0], &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
