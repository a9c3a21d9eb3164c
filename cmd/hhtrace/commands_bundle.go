package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/honeyhiveai/honeyhive-go/internal/dsl"
)

// buildBundleCmd creates the "bundle" command group for translation
// bundle inspection and validation.
func buildBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Inspect and validate translation bundles",
	}
	cmd.AddCommand(buildBundleShowCmd(), buildBundleValidateCmd())
	return cmd
}

func buildBundleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the embedded translation bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := dsl.Default()
			if err != nil {
				return err
			}
			printBundle(cmd, bundle)
			return nil
		},
	}
}

func buildBundleValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Compile and validate a bundle YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			bundle, err := dsl.Compile(src)
			if err != nil {
				return fmt.Errorf("bundle invalid: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			printBundle(cmd, bundle)
			return nil
		},
	}
}

func printBundle(cmd *cobra.Command, bundle *dsl.Bundle) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version:   %s\n", bundle.Version)
	fmt.Fprintf(out, "threshold: %.2f\n", bundle.ConfidenceThreshold)
	names := bundle.ProviderNames()
	sort.Strings(names)
	for _, name := range names {
		p := bundle.Providers[name]
		fmt.Fprintf(out, "provider %s: %d signature fields, %d rules, weight %.2f\n",
			name, len(p.Signature.Fields), len(p.Rules), p.Signature.ConfidenceWeight)
	}
}
