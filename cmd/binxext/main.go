// Command binxext reports which x86-64 CPUID feature extensions a
// compiled binary requires.
package main

import (
	"fmt"
	"os"

	"github.com/krafczyk/BinX86Ext/internal/report"
	"github.com/spf13/cobra"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := report.Options{}

	cmd := &cobra.Command{
		Use:   "binxext",
		Short: "Report the CPUID feature extensions a binary requires",
		RunE: func(cmd *cobra.Command, args []string) error {
			return report.Run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.InputPath, "input", "i", "", "path to the binary to inspect (required)")
	flags.StringVarP(&opts.DefinitionsPath, "definitions", "d", "instructions_fixed.csv", "path to the instruction dictionary CSV")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log diagnostic detail for every resolved instruction")
	flags.BoolVarP(&opts.Progress, "progress", "p", false, "display a progress bar while matching instructions")
	flags.BoolVarP(&opts.Careful, "careful", "c", false, "disable the triviality shortcut; match every candidate")
	flags.StringVar(&opts.ObjdumpPath, "objdump-location", "", "override the objdump executable to invoke")
	flags.BoolVar(&opts.FullStats, "full-stats", false, "include grouped per-definition counts in the report")

	cobra.CheckErr(cmd.MarkFlagRequired("input"))

	return cmd
}
