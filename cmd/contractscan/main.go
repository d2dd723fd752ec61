// Package main provides the entry point for the contractscan CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/contractscan/cmd/contractscan/commands"
	"github.com/Sumatoshi-tech/contractscan/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "contractscan",
		Short: "Batch vulnerability analysis of exported contract bytecode",
		Long: `contractscan walks block-range partitions of a contracts export, runs the
Oyente symbolic analyzer on every contract with bounded concurrency and writes
one analysis row per contract to a matching output partition. The scrape
command builds that input by fetching each contract's bytecode from a node.

Commands:
  scrape    Fetch contract bytecode for every batch of the contracts table
  run       Analyze every batch in the configured block range
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewScrapeCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
