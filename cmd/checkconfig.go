// Package cmd holds the srtrelay subcommands.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/srtrelay/internal/config"
)

// OptionsFunc returns the options loaded by the root command.
type OptionsFunc func() *config.Options

// CreateCheckConfigCmd creates the check-config command.
func CreateCheckConfigCmd(options OptionsFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Long: `Loads the configuration from flags, environment and the config file with the same ` +
			`precedence as the relay, validates it and prints the resulting endpoints. Exits 1 when invalid.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			if err := checkConfig(c.OutOrStdout(), options()); err != nil {
				fmt.Fprintln(c.ErrOrStderr(), err)
				os.Exit(1)
			}
		},
	}
}

func checkConfig(w io.Writer, opts *config.Options) error {
	if opts == nil {
		return errors.New("configuration not loaded")
	}
	s, err := config.Validate(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "srt listener:   %s (latency %s, key length %d)\n", s.SRTAddress(), s.SRT.Latency, s.SRT.PBKeyLen)
	fmt.Fprintf(w, "rtmp output:    %s\n", outputEndpoint(s.RTMPURL()))
	fmt.Fprintf(w, "telemetry:      %s (prometheus %t, auth %t)\n", s.WebAddress(), s.Telemetry.PrometheusEnabled, s.Telemetry.AuthUsername != "")
	if s.Telemetry.NatsURL != "" {
		fmt.Fprintf(w, "nats:           %s (subjects srtrelay.%s.>)\n", outputEndpoint(s.Telemetry.NatsURL), s.Telemetry.RelayName)
	}
	if s.Telemetry.NatsListen != "" {
		fmt.Fprintf(w, "nats server:    %s\n", s.Telemetry.NatsListen)
	}
	fmt.Fprintf(w, "pipeline:       queue %d, stats every %s, mux wait %s\n", s.Pipeline.QueueCapacity, s.Pipeline.StatsInterval, s.Pipeline.MuxWait)
	fmt.Fprintln(w, "configuration ok")
	return nil
}

// outputEndpoint prints the RTMP URL without the stream key.
func outputEndpoint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Scheme + "://" + u.Host
}
