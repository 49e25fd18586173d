package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Start an archive cycle on the leader",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCycle("archiving")
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Start a clean cycle on the leader",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCycle("cleaning")
	},
}

func startCycle(name string) error {
	var resp map[string]any
	if err := newClient().postJSON("/api/messagelog/v1/"+name+":start", nil, &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}
	fmt.Fprintf(out, "%s started; follow it with: messagelogctl runs --kind %s\n", name, extractValue(resp, "kind"))
	return nil
}
