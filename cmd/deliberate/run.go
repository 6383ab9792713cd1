package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/eventbridge"
	"github.com/kingrea/deliberate/internal/report"
	"github.com/kingrea/deliberate/internal/session"
	"github.com/kingrea/deliberate/internal/tui"
)

func runCmd() *cobra.Command {
	var (
		useTUI bool
		bridge string
		votes  bool
	)
	cmd := &cobra.Command{
		Use:   "run <process.yaml>",
		Short: "Run every session in a process file and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var console io.Writer
			if !useTUI {
				console = cmd.ErrOrStderr()
			}
			rt, err := openRuntime(projectDir, runtimeOptions{console: console})
			if err != nil {
				return err
			}
			defer rt.Close()

			pc, err := rt.loadProcess(args[0])
			if err != nil {
				return err
			}

			router := eventbridge.NewRouter(eventbridge.RouterWithLogger(rt.logger.Logger))
			processors := []eventbridge.EventProcessor{router}
			if bridge != "" {
				processors = append(processors, loggedPublisher(rt, eventbridge.NewPublisher(bridge, &http.Client{Timeout: 5 * time.Second})))
			}
			emitter := eventbridge.NewEmitter(eventbridge.Tee(processors...))

			proc, err := rt.builder(emitter, false).Process(pc)
			if err != nil {
				return err
			}
			rt.logger.Info("process loaded",
				zap.String("process", proc.Name),
				zap.Int("sessions", len(proc.Pending())),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if !useTUI {
				snaps, err := proc.RunAll(ctx)
				for _, snap := range snaps {
					if rerr := renderSnapshot(cmd.OutOrStdout(), snap, votes); rerr != nil {
						return rerr
					}
				}
				for _, s := range proc.Completed() {
					if loc := s.Location(); loc != "" {
						fprintf(cmd.OutOrStdout(), "Results: %s\n", loc)
					}
				}
				return err
			}

			sub := router.Subscribe(eventbridge.AllSessions)
			defer sub.Close()
			app := tui.NewApp(sub.Events,
				tui.WithTitle("⬡ DELIBERATE · "+proc.Name),
				tui.WithLogbook(rt.journal),
				tui.WithTopicTitles(topicTitles(proc)),
				tui.WithRunner(func() ([]*report.Report, error) {
					snaps, err := proc.RunAll(ctx)
					reports := make([]*report.Report, 0, len(snaps))
					for _, snap := range snaps {
						r, rerr := report.FromValue(snap)
						if rerr != nil {
							return reports, errors.Join(err, rerr)
						}
						reports = append(reports, r)
					}
					return reports, err
				}),
			)
			if _, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("run TUI: %w", err)
			}
			return app.Err()
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show live progress in a terminal UI")
	cmd.Flags().StringVar(&bridge, "bridge", "", "also publish progress events to a running bridge server at this URL")
	cmd.Flags().BoolVar(&votes, "votes", false, "print individual ballots with the results")
	return cmd
}

func topicTitles(proc *session.Process) map[string]string {
	titles := map[string]string{}
	for _, s := range proc.Pending() {
		for _, t := range s.Topics() {
			titles[t.ID] = t.Title
		}
	}
	return titles
}

// loggedPublisher keeps a dead bridge from failing the run.
func loggedPublisher(rt *runtime, p *eventbridge.Publisher) eventbridge.EventProcessor {
	return eventbridge.EventProcessorFunc(func(e eventbridge.Event) error {
		if err := p.HandleEvent(e); err != nil {
			rt.logger.Warn("publish event", zap.String("type", e.Type), zap.Error(err))
		}
		return nil
	})
}

func renderSnapshot(w io.Writer, snap *session.Snapshot, votes bool) error {
	r, err := report.FromValue(snap)
	if err != nil {
		return err
	}
	if err := r.Render(w, votes); err != nil {
		return err
	}
	fprintf(w, "\n")
	return nil
}
