package mon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// SummaryResponse mirrors the JSON returned by GET /api/summary.
type SummaryResponse struct {
	Name          string         `json:"name"`
	Phase         string         `json:"phase"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Summary       map[string]any `json:"summary"`
}

// Summary fetches the run summary and prints a formatted overview.
func Summary(baseURL string) error {
	baseURL = strings.TrimRight(baseURL, "/")

	resp, err := httpClient.Get(baseURL + "/api/summary")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var s SummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return err
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)

	fmt.Println()
	fmt.Println(header("  VODPIPE RUN STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Pipeline:"), s.Name)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Phase:"), colorize(phaseColor(s.Phase), s.Phase))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)

	if len(s.Summary) > 0 {
		fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
		pretty, err := json.MarshalIndent(s.Summary, "  ", "  ")
		if err == nil {
			fmt.Printf("  %s\n", string(pretty))
		}
	}
	fmt.Println()

	return nil
}

// Health checks the monitor's health endpoint.
func Health(baseURL string) error {
	baseURL = strings.TrimRight(baseURL, "/")

	resp, err := httpClient.Get(baseURL + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: %s", resp.Status)
	}
	fmt.Printf("%s %s\n", colorize(green, "ok"), colorize(dim, baseURL))
	return nil
}
