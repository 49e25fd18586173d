package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Find logged records by query id",
	Args:  cobra.NoArgs,
	RunE:  runRecords,
}

var recordGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Show one record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordGet,
}

var asicCmd = &cobra.Command{
	Use:   "asic <record-id>",
	Short: "Download the ASiC container of a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsic,
}

var (
	recQueryID    string
	recClient     string
	recResponse   string
	recXRequestID string
	recFrom       string
	recTo         string

	asicOutFile string
)

func init() {
	f := recordsCmd.Flags()
	f.StringVar(&recQueryID, "query-id", "", "Query id of the message (required)")
	f.StringVar(&recClient, "client", "", "Client as INSTANCE/CLASS/CODE[/SUBSYSTEM]")
	f.StringVar(&recResponse, "response", "", "Only requests (false) or responses (true)")
	f.StringVar(&recXRequestID, "x-request-id", "", "X-Road request id")
	f.StringVar(&recFrom, "from", "", "Logged at or after (RFC 3339); returns the first match")
	f.StringVar(&recTo, "to", "", "Logged at or before (RFC 3339); returns the first match")
	_ = recordsCmd.MarkFlagRequired("query-id")
	recordsCmd.AddCommand(recordGetCmd)

	asicCmd.Flags().StringVarP(&asicOutFile, "file", "f", "", "Output file; defaults to the server's file name, - for stdout")
}

func recordsPath() string {
	q := url.Values{}
	q.Set("queryId", recQueryID)
	for k, v := range map[string]string{
		"client":     recClient,
		"response":   recResponse,
		"xRequestId": recXRequestID,
		"from":       recFrom,
		"to":         recTo,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	return "/api/messagelog/v1/records?" + q.Encode()
}

func runRecords(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	if err := newClient().getJSON(recordsPath(), &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}
	tableOf(itemsOf(resp, "records"),
		[]string{"ID", "Time", "Response", "Client", "Service", "Timestamp", "Archived"},
		[]string{"id", "time", "response", "client.memberCode", "serviceId", "timestampRecordId", "archived"})
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}

func runRecordGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	var resp map[string]any
	if err := newClient().getJSON(fmt.Sprintf("/api/messagelog/v1/records/%d", id), &resp); err != nil {
		return err
	}
	if structured() {
		return printOutput(resp)
	}
	printTable([]string{"Field", "Value"}, [][]string{
		{"ID", extractValue(resp, "id")},
		{"Kind", extractValue(resp, "kind")},
		{"Query ID", extractValue(resp, "queryId")},
		{"X-Request-Id", extractValue(resp, "xRequestId")},
		{"Time", extractValue(resp, "time")},
		{"Response", extractValue(resp, "response")},
		{"Client", clientString(resp)},
		{"Service", extractValue(resp, "serviceId")},
		{"Signature hash", truncate(extractValue(resp, "signatureHash"), 60)},
		{"Timestamp record", extractValue(resp, "timestampRecordId")},
		{"Archived", extractValue(resp, "archived")},
	})
	return nil
}

func clientString(rec map[string]any) string {
	s := extractValue(rec, "client.instance") + "/" + extractValue(rec, "client.memberClass") + "/" + extractValue(rec, "client.memberCode")
	if sub := extractValue(rec, "client.subsystemCode"); sub != "" {
		s += "/" + sub
	}
	return s
}

func runAsic(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	data, name, err := newClient().download(fmt.Sprintf("/api/messagelog/v1/records/%d/asic", id))
	if err != nil {
		return err
	}

	dest := asicOutFile
	if dest == "" {
		dest = name
	}
	if dest == "" {
		dest = fmt.Sprintf("record-%d.asice", id)
	}
	if dest == "-" {
		_, err := out.Write(data)
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	fmt.Fprintf(out, "wrote %s (%d bytes)\n", dest, len(data))
	return nil
}
