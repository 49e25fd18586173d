package main

import (
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show timestamping state, record counters and the last maintenance runs",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	if err := newClient().getJSON("/api/messagelog/v1/status", &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}

	rows := [][]string{
		{"Timestamping", extractValue(resp, "timestamping.status")},
		{"Pending records", extractValue(resp, "timestamping.pending")},
		{"Refusing messages", extractValue(resp, "timestamping.circuitOpen")},
		{"Immediate mode", extractValue(resp, "timestamping.immediate")},
		{"Failing since", extractValue(resp, "timestamping.failureSince")},
		{"Last success", extractValue(resp, "timestamping.lastSuccess")},
		{"Last error", truncate(extractValue(resp, "timestamping.lastError"), 80)},
		{"Records", extractValue(resp, "records.total")},
		{"Untimestamped", extractValue(resp, "records.untimestamped")},
		{"Unarchived", extractValue(resp, "records.unarchived")},
		{"Archived", extractValue(resp, "records.archived")},
		{"Last archive", runLine(resp, "lastArchive")},
		{"Last clean", runLine(resp, "lastClean")},
	}

	if tsa, ok := extractMap(resp, "timestamping", "tsa"); ok {
		urls := make([]string, 0, len(tsa))
		for u := range tsa {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			m, _ := tsa[u].(map[string]any)
			state := "ok"
			if extractValue(m, "ok") != "true" {
				state = "failed: " + truncate(extractValue(m, "error"), 60)
			}
			rows = append(rows, []string{"TSA " + u, state})
		}
	}

	printTable([]string{"Field", "Value"}, rows)
	return nil
}

func runLine(resp map[string]any, key string) string {
	state := extractValue(resp, key+".state")
	if state == "" {
		return "never"
	}
	return state + " at " + extractValue(resp, key+".startedAt") + " (" + extractValue(resp, key+".count") + " records)"
}

func extractMap(data map[string]any, keys ...string) (map[string]any, bool) {
	current := data
	for _, k := range keys {
		next, ok := current[k].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}
