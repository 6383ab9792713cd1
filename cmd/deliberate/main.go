// cmd/deliberate/main.go
//
// Entry point for the deliberate CLI. Every command works against a
// project directory holding .deliberate/ (config, logs, results).
//
//	deliberate run process.yaml [--tui] [--bridge URL]
//	deliberate validate process.yaml
//	deliberate show [results.json] [--votes]
//	deliberate serve
//	deliberate watch [session-id] [--addr URL]

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var projectDir string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deliberate",
		Short:         "Run structured consensus rounds between participants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&projectDir, "project", "C", ".", "project directory containing .deliberate/")
	root.AddCommand(
		initCmd(),
		runCmd(),
		validateCmd(),
		showCmd(),
		serveCmd(),
		watchCmd(),
	)
	return root
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .deliberate directory and a starter config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(projectDir, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", rt.cfg.Root)
			return nil
		},
	}
}
