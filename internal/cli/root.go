package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Email scheduling autopilot",
	Long: `autopilot negotiates meeting times over email: it matches replies to open
scheduling requests, classifies them, books confirmed times and escalates
anything it cannot decide safely to a human reviewer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(processMessageCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
