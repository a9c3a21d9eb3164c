package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	honeyhive "github.com/honeyhiveai/honeyhive-go"
)

// buildSendCmd creates the "send" command, which pushes one synthetic
// event through the full pipeline to verify end-to-end delivery.
func buildSendCmd() *cobra.Command {
	var (
		name    string
		dryRun  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a synthetic test event through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, name, dryRun, timeout)
		},
	}

	cmd.Flags().StringVar(&name, "name", "hhtrace-smoke-test", "Event name for the test span")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Capture locally instead of sending")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Flush timeout")
	return cmd
}

func runSend(cmd *cobra.Command, name string, dryRun bool, timeout time.Duration) error {
	tracer, err := honeyhive.New(honeyhive.Options{
		SessionName: "hhtrace",
		TestMode:    dryRun,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), name)
	span.SetAttributes(
		attribute.String("llm.model_name", "gpt-4"),
		attribute.String("llm.output_messages.0.role", "assistant"),
		attribute.String("llm.output_messages.0.content", "hhtrace test event"),
		attribute.Int("llm.token_count_prompt", 1),
		attribute.Int("llm.token_count_completion", 1),
	)
	span.End()

	if !tracer.Flush(timeout) {
		return fmt.Errorf("flush did not complete within %s", timeout)
	}

	out := cmd.OutOrStdout()
	if dryRun {
		for _, ev := range tracer.CapturedEvents() {
			fmt.Fprintf(out, "captured %s event %q (session %s)\n",
				ev.EventType, ev.EventName, ev.SessionID)
		}
		return nil
	}
	fmt.Fprintf(out, "sent event %q (strategy %s, environment %s)\n",
		name, tracer.ProviderInfo().Strategy, tracer.EnvironmentKind())
	return nil
}
