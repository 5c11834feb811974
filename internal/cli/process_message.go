package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"scheduling_autopilot/internal/app"
	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/spf13/cobra"
)

var processMessageCmd = &cobra.Command{
	Use:   "process-message [file]",
	Short: "Process one inbound email",
	Long: `Process one inbound email given as IncomingEmail JSON, read from the file
argument or from stdin, and print the outcome as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: processMessage,
}

func processMessage(cmd *cobra.Command, args []string) error {
	email, err := readEmail(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.inbox.Save(ctx, email); err != nil {
		return err
	}
	outcome, err := app.NewSchedulingService(env.deps).ProcessMessage(ctx, email)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}

func readEmail(stdin io.Reader, args []string) (*scheduling.IncomingEmail, error) {
	r := stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to open message file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var email scheduling.IncomingEmail
	if err := json.NewDecoder(r).Decode(&email); err != nil {
		return nil, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	email.ID = strings.TrimSpace(email.ID)
	if email.ID == "" {
		return nil, app.ErrInvalidMessage
	}
	return &email, nil
}
