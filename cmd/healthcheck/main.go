// Package main provides a minimal probe binary for container images without
// a shell. It requests the message log readiness endpoint and exits with
// code 0 when the server is ready, or 1 otherwise, naming the components
// that are down.
// Usage: healthcheck [url]   (default $MESSAGELOG_HEALTHCHECK_URL or http://localhost:8080/readyz)
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

type readiness struct {
	Status     string `json:"status"`
	Components map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"components"`
}

func main() {
	url := os.Getenv("MESSAGELOG_HEALTHCHECK_URL")
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if url == "" {
		url = defaultURL
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		os.Exit(0)
	}

	var body readiness
	if json.NewDecoder(resp.Body).Decode(&body) == nil && len(body.Components) > 0 {
		names := make([]string, 0, len(body.Components))
		for name := range body.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if c := body.Components[name]; c.Status != "up" {
				fmt.Fprintf(os.Stderr, "%s: %s %s\n", name, c.Status, c.Error)
			}
		}
	}
	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	os.Exit(1)
}
