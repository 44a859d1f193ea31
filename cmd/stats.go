package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/srtrelay/internal/api/models"
)

// CreateStatsCmd creates the stats command.
func CreateStatsCmd(options OptionsFunc) *cobra.Command {
	var addr string
	var asJSON bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print SRT statistics of a running relay",
		Long:  `Fetches /api/stats from a running relay and prints one line per connected caller.`,
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			opts := options()
			base := addr
			var user, pass string
			if opts != nil {
				if base == "" {
					base = "http://127.0.0.1:" + strconv.Itoa(opts.WebPort)
				}
				user, pass = opts.TelemetryAuthUsername, opts.TelemetryAuthPassword
			}

			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			stats, err := fetchStats(ctx, http.DefaultClient, base, user, pass)
			if err != nil {
				fmt.Fprintln(c.ErrOrStderr(), err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(stats)
				return
			}
			writeStats(c.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Relay API base URL (default http://127.0.0.1:<web port>)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw report")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func fetchStats(ctx context.Context, client *http.Client, base, user, pass string) (*models.StatsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/stats", nil)
	if err != nil {
		return nil, err
	}
	if user != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch stats: %s: %s", resp.Status, body)
	}

	var stats models.StatsData
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

func writeStats(w io.Writer, stats *models.StatsData) {
	if !stats.Available || stats.Report == nil {
		fmt.Fprintln(w, "no statistics sampled yet")
		return
	}

	report := stats.Report
	fmt.Fprintf(w, "sampled %s, %d caller(s), %d bytes received in total\n",
		stats.SampledAt.Format(time.RFC3339), len(report.Callers), report.BytesReceivedTotal)
	if len(report.Callers) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CALLER\tRECEIVED\tLOST\tDROPPED\tRETRANS\tRATE\tRTT\tLATENCY")
	for _, c := range report.Callers {
		peer := c.Peer()
		if peer == "" {
			peer = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2f Mbps\t%s\t%s\n",
			peer,
			c.PacketsReceived,
			c.PacketsReceivedLost,
			c.PacketsReceivedDropped,
			c.PacketsReceivedRetransmitted,
			c.ReceiveRateMbps,
			c.RTT().Round(time.Millisecond/10),
			c.NegotiatedLatency())
	}
	_ = tw.Flush()
}
