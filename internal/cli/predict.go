package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPredictCmd creates the 'predict' command group.
func NewPredictCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Query the prediction models",
	}
	cmd.AddCommand(newPredictSuccessCmd(addr))
	cmd.AddCommand(newPredictROICmd(addr))
	cmd.AddCommand(newPredictStrategyCmd(addr))
	return cmd
}

func newPredictSuccessCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "success <pattern-id>",
		Short: "Estimate the probability that reusing the pattern succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			err := NewClient(*addr).post("/api/predict/success",
				map[string]string{"pattern_id": args[0]}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newPredictROICmd(addr *string) *cobra.Command {
	var effortHours float64

	cmd := &cobra.Command{
		Use:   "roi <pattern-id>",
		Short: "Estimate return on investment for applying the pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			err := NewClient(*addr).post("/api/predict/roi", map[string]any{
				"pattern_id":   args[0],
				"effort_hours": effortHours,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().Float64VarP(&effortHours, "effort-hours", "e", 0, "Estimated effort in hours")
	return cmd
}

func newPredictStrategyCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "strategy <pattern-id>",
		Short: "Rank implementation strategies for the pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			err := NewClient(*addr).post("/api/predict/strategy",
				map[string]string{"pattern_id": args[0]}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

// NewRetrainCmd creates the 'retrain' command.
func NewRetrainCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain <success|roi|strategy>",
		Short: "Retrain one model kind from recorded outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			err := NewClient(*addr).post("/api/retrain",
				map[string]string{"kind": args[0]}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

// NewOutcomeCmd creates the 'outcome' command.
func NewOutcomeCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "outcome <pattern-id> <value>",
		Short: "Record an observed outcome for a pattern (0..1)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value float64
			if _, err := fmt.Sscanf(args[1], "%f", &value); err != nil {
				return fmt.Errorf("invalid outcome value %q", args[1])
			}
			var out map[string]any
			err := NewClient(*addr).post("/api/outcomes", map[string]any{
				"pattern_id": args[0],
				"outcome":    value,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
