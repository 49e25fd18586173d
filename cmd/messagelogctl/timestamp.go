package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var timestampCmd = &cobra.Command{
	Use:   "timestamp [record-id]",
	Short: "Start a timestamping cycle, or timestamp one record now",
	Long: `Without arguments, asks the server to timestamp all pending records.
With a record id, timestamps that record immediately and prints the
resulting timestamp record.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTimestamp,
}

var setStatusCmd = &cobra.Command{
	Use:       "set-status success|failure|unknown",
	Short:     "Report an externally observed timestamping status",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"success", "failure", "unknown"},
	RunE:      runSetStatus,
}

func runTimestamp(cmd *cobra.Command, args []string) error {
	client := newClient()
	if len(args) == 0 {
		var resp map[string]any
		if err := client.postJSON("/api/messagelog/v1/timestamping:start", nil, &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		fmt.Fprintln(out, "timestamping started")
		return nil
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid record id %q", args[0])
	}
	var resp map[string]any
	if err := client.postJSON(fmt.Sprintf("/api/messagelog/v1/records/%d:timestamp", id), nil, &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}
	printTable([]string{"Timestamp", "Time", "TSA", "Records"}, [][]string{{
		extractValue(resp, "id"),
		extractValue(resp, "time"),
		extractValue(resp, "tsaUrl"),
		extractValue(resp, "recordIds"),
	}})
	return nil
}

func runSetStatus(cmd *cobra.Command, args []string) error {
	status := strings.ToLower(args[0])
	switch status {
	case "success", "failure", "unknown":
	default:
		return fmt.Errorf("status must be success, failure or unknown, got %q", args[0])
	}

	var resp map[string]any
	if err := newClient().putJSON("/api/messagelog/v1/timestamping/status", map[string]string{"status": status}, &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}
	fmt.Fprintf(out, "timestamping status set to %s\n", extractValue(resp, "status"))
	return nil
}
