package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	user      string
	groups    string
	token     string

	// out receives command output; tests replace it.
	out io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "messagelogctl",
	Short: "CLI for the message log server",
	Long: `messagelogctl operates a message log server through its admin API.

It inspects timestamping state, triggers timestamping, archiving and
cleaning, looks up logged records and downloads their ASiC containers.

The verify-archive and verify-asic commands work offline on files.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOrDefault("MESSAGELOG_SERVER", "http://localhost:8080"), "Message log server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&user, "user", os.Getenv("MESSAGELOG_USER"), "User sent as X-Remote-User")
	rootCmd.PersistentFlags().StringVar(&groups, "groups", os.Getenv("MESSAGELOG_GROUPS"), "Comma-separated groups sent as X-Remote-Group")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("MESSAGELOG_TOKEN"), "Bearer token for JWT auth mode")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(timestampCmd)
	rootCmd.AddCommand(setStatusCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(asicCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(verifyArchiveCmd)
	rootCmd.AddCommand(verifyAsicCmd)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
