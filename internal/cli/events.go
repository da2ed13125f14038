package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewEventsCmd creates the 'events' command.
func NewEventsCmd(addr *string) *cobra.Command {
	var limit int
	var itemID string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent flow events, or all events for one item",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/events/recent?limit=%d", limit)
			if itemID != "" {
				path = "/api/items/" + itemID + "/events"
			}
			var out map[string]any
			if err := NewClient(*addr).get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum number of events")
	cmd.Flags().StringVarP(&itemID, "item", "i", "", "Show the full event timeline for one item")
	return cmd
}
