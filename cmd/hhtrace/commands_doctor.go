package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/honeyhiveai/honeyhive-go/internal/config"
	"github.com/honeyhiveai/honeyhive-go/internal/dsl"
	"github.com/honeyhiveai/honeyhive-go/internal/envprofile"
	"github.com/honeyhiveai/honeyhive-go/internal/provider"
)

// buildDoctorCmd creates the "doctor" command for configuration and
// environment diagnostics.
func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and report environment detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd)
		},
	}
}

func runDoctor(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cfg, warnings, err := config.Resolve(config.Options{}, os.Getenv)
	if err != nil {
		fmt.Fprintf(out, "configuration: FAIL\n  %v\n", err)
		return err
	}
	fmt.Fprintln(out, "configuration: OK")
	fmt.Fprintf(out, "  project:      %s\n", cfg.Project)
	fmt.Fprintf(out, "  source:       %s\n", cfg.Source)
	fmt.Fprintf(out, "  server_url:   %s\n", cfg.ServerURL)
	fmt.Fprintf(out, "  api_key:      %s\n", maskKey(cfg.APIKey))
	fmt.Fprintf(out, "  otlp:         enabled=%t protocol=%s batch=%t\n",
		cfg.OTLPEnabled, cfg.OTLPProtocol, !cfg.DisableBatch)
	for _, w := range warnings {
		fmt.Fprintf(out, "  warning:      %s\n", w)
	}

	profile := envprofile.Detect(os.Getenv)
	fmt.Fprintf(out, "environment:  %s\n", profile.Kind)
	fmt.Fprintf(out, "  lifecycle timeout: %s\n", profile.LifecycleTimeout)
	fmt.Fprintf(out, "  flush timeout:     %s\n", profile.FlushTimeout)
	fmt.Fprintf(out, "  retries:           %d\n", profile.RetryMax)

	class := provider.Classify(otel.GetTracerProvider())
	fmt.Fprintf(out, "global otel provider: %s\n", class)

	bundle, err := dsl.Default()
	if err != nil {
		fmt.Fprintf(out, "translation bundle: FAIL\n  %v\n", err)
		return err
	}
	fmt.Fprintf(out, "translation bundle: v%s (%s)\n",
		bundle.Version, strings.Join(bundle.ProviderNames(), ", "))
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return "(unset)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
