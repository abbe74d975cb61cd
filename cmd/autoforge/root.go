package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autoforge",
	Short: "Dependency-ordered artifact generation engine",
	Long: `autoforge executes a decomposed task plan: each task asks a language
model for a file tree or a set of edits, runs the result through review,
dependency install, automated tests, and your own confirmation, and only
then unlocks the tasks that depend on it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", ".", "directory holding autoforge.yaml")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug detail to the console")
	rootCmd.AddCommand(newRunCmd())
}

// Execute runs the CLI. Environment variables from a local .env file are
// loaded first so API keys don't have to live in the shell profile.
func Execute(ctx context.Context) error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(ctx)
}
