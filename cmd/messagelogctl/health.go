package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is alive and ready to log messages",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	var alive map[string]any
	if err := client.getJSON("/healthz", &alive); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	ready := readiness(client)

	if structured() {
		return printOutput(map[string]any{"health": alive, "readiness": ready})
	}

	rows := [][]string{
		{"alive", extractValue(alive, "status"), extractValue(alive, "uptime")},
		{"ready", extractValue(ready, "status"), ""},
	}
	components, _ := ready["components"].(map[string]any)
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, _ := components[name].(map[string]any)
		rows = append(rows, []string{name, extractValue(c, "status"), extractValue(c, "error")})
	}
	printTable([]string{"Check", "Status", "Detail"}, rows)
	return nil
}

// readiness returns the /readyz body. A 503 still carries the component
// breakdown, so it is decoded instead of treated as a failure.
func readiness(client *apiClient) map[string]any {
	var ready map[string]any
	err := client.getJSON("/readyz", &ready)
	if err == nil {
		return ready
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) && json.Unmarshal(apiErr.Body, &ready) == nil {
		return ready
	}
	return map[string]any{"status": "not_ready", "error": err.Error()}
}
