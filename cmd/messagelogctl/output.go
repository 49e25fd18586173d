package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const cellWidth = 60

// structured reports whether -o asks for a machine readable format.
func structured() bool {
	return outputFmt == "json" || outputFmt == "yaml"
}

func printOutput(v any) error {
	switch outputFmt {
	case "json":
		return printJSON(v)
	case "yaml":
		return printYAML(v)
	}
	return fmt.Errorf("-o %s cannot render this answer, use json or yaml", outputFmt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML emits v with its JSON field names. Values decoded from the
// server are already generic; typed values are normalized first.
func printYAML(v any) error {
	if _, ok := v.(map[string]any); !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		v = generic
	}
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(v)
}

func printTable(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, strings.ToUpper(strings.Join(headers, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

// extractValue follows a dotted path through decoded JSON and renders the
// value found there as a table cell.
func extractValue(data map[string]any, path string) string {
	var v any = data
	for _, key := range strings.Split(path, ".") {
		obj, ok := v.(map[string]any)
		if !ok {
			return ""
		}
		v = obj[key]
	}
	return cell(v)
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		// JSON numbers; record ids and counters are integral.
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	case []any:
		parts := make([]string, len(x))
		for i := range x {
			parts[i] = cell(x[i])
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

// itemsOf returns the objects listed under key.
func itemsOf(data map[string]any, key string) []map[string]any {
	list, _ := data[key].([]any)
	var items []map[string]any
	for _, entry := range list {
		if obj, ok := entry.(map[string]any); ok {
			items = append(items, obj)
		}
	}
	return items
}

// tableOf prints one row per item, one column per path.
func tableOf(items []map[string]any, headers, paths []string) {
	rows := make([][]string, len(items))
	for i, item := range items {
		rows[i] = make([]string, len(paths))
		for j, p := range paths {
			rows[i][j] = truncate(extractValue(item, p), cellWidth)
		}
	}
	printTable(headers, rows)
}

func truncate(s string, max int) string {
	switch {
	case len(s) <= max:
		return s
	case max <= 3:
		return s[:max]
	}
	return s[:max-3] + "..."
}
