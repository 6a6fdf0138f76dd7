// Command canvasctl is an offline toolbox for planboard boards.
//
//	canvasctl validate board.json
//	canvasctl grid --zoom 2 --type dots -o grid.png
//	canvasctl bench --elements 100 --frames 120
//	canvasctl migrate
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "canvasctl",
		Short:         "Inspect and exercise planboard boards offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(cmd.ErrOrStderr(), verbose)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildValidateCmd(),
		buildGridCmd(),
		buildBenchCmd(),
		buildMigrateCmd(),
	)
	return rootCmd
}
