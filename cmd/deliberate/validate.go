package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/deliberate/internal/config"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <process.yaml>",
		Short: "Check a process file without running it",
		Long: "Parses the process file, reports every structural problem, then builds each " +
			"session with stand-in participants so unknown voting methods, validators and " +
			"malformed content schemas are caught without credentials.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			report, pc := config.ValidateFile(args[0])
			if !report.Valid() {
				fprintf(out, "Invalid: %s\n", report.Path)
				for _, err := range report.Errors {
					fprintf(out, "- %v\n", err)
				}
				return fmt.Errorf("%d problem(s) in %s", len(report.Errors), report.Path)
			}

			rt, err := openRuntime(projectDir, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			pc.Inherit(rt.cfg.Project)
			proc, err := rt.builder(nil, true).Process(pc)
			if err != nil {
				fprintf(out, "Invalid: %s\n- %v\n", report.Path, err)
				return fmt.Errorf("build %s: %w", report.Path, err)
			}
			topics, participants := 0, 0
			for _, s := range proc.Pending() {
				topics += len(s.Topics())
				participants += len(s.Participants())
			}
			fprintf(out, "OK: %s (%s: %d sessions, %d topics, %d participants)\n",
				report.Path, proc.Name, len(proc.Pending()), topics, participants)
			return nil
		},
	}
}
