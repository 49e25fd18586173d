package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List archive and clean runs, or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

var auditCmd = &cobra.Command{
	Use:   "audit [event-id]",
	Short: "List admin audit events, or show one event",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAudit,
}

var (
	runKind    string
	runState   string
	runTrigger string

	auditActor   string
	auditAction  string
	auditOutcome string
	auditSince   string

	pageSize  int
	pageToken string
)

func init() {
	runsCmd.Flags().StringVar(&runKind, "kind", "", "Filter by kind: archive, clean")
	runsCmd.Flags().StringVar(&runState, "state", "", "Filter by state: running, succeeded, failed, abandoned")
	runsCmd.Flags().StringVar(&runTrigger, "trigger", "", "Filter by trigger: schedule, manual")

	auditCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action")
	auditCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Filter by outcome: success, failure, denied")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "Only events at or after (RFC 3339)")

	for _, c := range []*cobra.Command{runsCmd, auditCmd} {
		c.Flags().IntVar(&pageSize, "page-size", 20, "Page size")
		c.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous listing")
	}
}

func listQuery(filters map[string]string) string {
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	if pageSize > 0 {
		q.Set("pageSize", fmt.Sprint(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func printPage(resp map[string]any, shown int) {
	if next := extractValue(resp, "nextPageToken"); next != "" {
		fmt.Fprintf(out, "\n%d of %s shown; next page: --page-token %s\n",
			shown, extractValue(resp, "totalSize"), next)
	}
}

func runRuns(cmd *cobra.Command, args []string) error {
	client := newClient()
	if len(args) == 1 {
		var resp map[string]any
		if err := client.getJSON("/api/messagelog/v1/runs/"+url.PathEscape(args[0]), &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		tableOf([]map[string]any{resp},
			[]string{"ID", "Kind", "Trigger", "Instance", "State", "Started", "Finished", "Records", "Error"},
			[]string{"id", "kind", "trigger", "instance", "state", "startedAt", "finishedAt", "count", "lastError"})
		return nil
	}

	var resp map[string]any
	path := "/api/messagelog/v1/runs" + listQuery(map[string]string{
		"kind": runKind, "state": runState, "trigger": runTrigger,
	})
	if err := client.getJSON(path, &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}
	items := itemsOf(resp, "runs")
	tableOf(items,
		[]string{"ID", "Kind", "Trigger", "State", "Started", "Records", "Duration ms", "Error"},
		[]string{"id", "kind", "trigger", "state", "startedAt", "count", "durationMs", "lastError"})
	printPage(resp, len(items))
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	client := newClient()
	if len(args) == 1 {
		var resp map[string]any
		if err := client.getJSON("/api/audit/v1/events/"+url.PathEscape(args[0]), &resp); err != nil {
			return err
		}
		return printOutputOr(resp, func() {
			tableOf([]map[string]any{resp},
				[]string{"ID", "Actor", "Action", "Resource", "Outcome", "Status", "Path", "Created"},
				[]string{"id", "actor", "action", "resourceId", "outcome", "statusCode", "path", "createdAt"})
		})
	}

	var resp map[string]any
	path := "/api/audit/v1/events" + listQuery(map[string]string{
		"actor": auditActor, "action": auditAction, "outcome": auditOutcome, "since": auditSince,
	})
	if err := client.getJSON(path, &resp); err != nil {
		return err
	}
	return printOutputOr(resp, func() {
		items := itemsOf(resp, "events")
		tableOf(items,
			[]string{"Created", "Actor", "Action", "Resource", "Outcome", "Status"},
			[]string{"createdAt", "actor", "action", "resourceId", "outcome", "statusCode"})
		printPage(resp, len(items))
	})
}

// printOutputOr prints resp in a structured format, or calls table.
func printOutputOr(resp map[string]any, table func()) error {
	if structured() {
		return printOutput(resp)
	}
	table()
	return nil
}
