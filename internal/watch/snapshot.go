package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zsiec/vehiclecount/internal/api"
	"github.com/zsiec/vehiclecount/internal/counter"
)

// FetchStreams reads every slot's stats once from the list endpoint.
func FetchStreams(ctx context.Context, client *http.Client, baseURL string) (*api.StreamListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/v1/streams", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out api.StreamListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode streams: %w", err)
	}
	return &out, nil
}

// Summary renders a plain one-line-per-slot table.
func Summary(list *api.StreamListResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-12s %7s", "sid", "status", "fps")
	for _, class := range counter.Classes {
		fmt.Fprintf(&b, " %6s", class)
	}
	b.WriteString("  source\n")

	for _, st := range list.Streams {
		fmt.Fprintf(&b, "%-4d %-12s %7.1f", st.Slot, st.Status, st.ProcessedFPS)
		for _, class := range counter.Classes {
			fmt.Fprintf(&b, " %6d", st.Counts[class])
		}
		fmt.Fprintf(&b, "  %s\n", st.Source)
	}
	return b.String()
}
