package cli

import (
	"encoding/json"
	"fmt"

	"scheduling_autopilot/internal/app"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one autopilot batch",
	Long: `Run one autopilot batch and print the aggregate result as JSON.
Without --workflow all workflows run in order: inbound, bookings, reminders, expiry.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringSliceP("workflow", "w", nil, "Workflow to run (repeatable): inbound, bookings, reminders, expiry")
	runCmd.Flags().Bool("dry-run", false, "Decide without writing or sending anything")
	runCmd.Flags().Int("limit", 0, "Maximum number of items to process (default: BATCH_LIMIT)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	names, err := cmd.Flags().GetStringSlice("workflow")
	if err != nil {
		return err
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	workflows := make([]app.Workflow, 0, len(names))
	for _, name := range names {
		wf, err := app.ParseWorkflow(name)
		if err != nil {
			return err
		}
		workflows = append(workflows, wf)
	}

	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	service := app.NewSchedulingService(env.deps)
	autopilot := app.NewAutopilot(service, env.deps)
	result, err := autopilot.RunBatch(ctx, app.BatchOptions{Workflows: workflows, DryRun: dryRun, Limit: limit})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
