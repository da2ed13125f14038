package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewIngestCmd creates the 'ingest' command.
func NewIngestCmd(addr *string) *cobra.Command {
	var sourceType string
	var sourceName string
	var project string

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest files (or stdin) into a new session",
		Example: `  kilnctl ingest notes.md --source-type document --project myapp
  cat snippet.go | kilnctl ingest --source-type code --source-name snippet.go`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads, err := collectPayloads(args)
			if err != nil {
				return err
			}
			if len(payloads) == 0 {
				return fmt.Errorf("nothing to ingest")
			}
			if sourceName == "" && len(args) > 0 {
				sourceName = args[0]
			}

			var resp struct {
				SessionID string   `json:"session_id"`
				ItemIDs   []string `json:"item_ids"`
			}
			err = NewClient(*addr).post("/api/ingest", map[string]any{
				"source_type": sourceType,
				"source_name": sourceName,
				"project":     project,
				"payloads":    payloads,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Printf("session %s: %d item(s) submitted\n", resp.SessionID, len(resp.ItemIDs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sourceType, "source-type", "t", "document", "Source type (document|code|conversation|web_scrape|api_response)")
	cmd.Flags().StringVarP(&sourceName, "source-name", "n", "", "Source name (defaults to the first file name)")
	cmd.Flags().StringVarP(&project, "project", "p", "default", "Project scope")
	return cmd
}

func collectPayloads(args []string) ([]string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if len(data) == 0 {
			return nil, nil
		}
		return []string{string(data)}, nil
	}

	payloads := make([]string, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		payloads = append(payloads, string(data))
	}
	return payloads, nil
}
