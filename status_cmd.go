package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"node.town/uam/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the speakers of a running relay in a table",
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	snap, err := fetchStatus(ctx, http.DefaultClient, addr)
	if err != nil {
		logger.Fatal("fetch status", "addr", addr, "error", err)
	}
	writeStatusTable(os.Stdout, snap)
}

func fetchStatus(ctx context.Context, client *http.Client, addr string) (status.Snapshot, error) {
	var snap status.Snapshot

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(addr, "/")+"/status", nil)
	if err != nil {
		return snap, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return snap, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}

func writeStatusTable(w io.Writer, snap status.Snapshot) {
	fmt.Fprintf(w, "Upstream: %s\n", snap.Upstream)
	for _, s := range snap.Sessions {
		fmt.Fprintf(w, "Session %s (viewer %s)\n", s.StreamID, s.Viewer)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Session", "Speaker", "Name", "State"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, row := range snap.Rows() {
		table.Append([]string{
			row.Session,
			row.SpeakerID,
			row.Name,
			row.State.String(),
		})
	}

	table.Render()
	fmt.Fprintf(w, "\nTotal speakers: %d, forwarding: %d\n", len(snap.Rows()), snap.Forwarding)
}
