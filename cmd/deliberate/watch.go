package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/deliberate/internal/config"
	"github.com/kingrea/deliberate/internal/eventbridge"
	"github.com/kingrea/deliberate/internal/tui"
)

func watchCmd() *cobra.Command {
	var (
		url   string
		plain bool
	)
	cmd := &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Follow progress events from a bridge server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			}
			if url == "" {
				cfg, err := config.NewConfig(projectDir)
				if err != nil {
					return err
				}
				url = eventbridge.SettingsFromConfig(cfg).URL()
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if plain {
				out := cmd.OutOrStdout()
				err := eventbridge.Stream(ctx, url, sessionID, func(e eventbridge.Event) {
					fprintf(out, "%s %-20s %s %s\n", e.Time.Format("15:04:05"), e.Type, e.TopicID, e.Detail)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			events := make(chan eventbridge.Event, 64)
			streamErr := make(chan error, 1)
			go func() {
				defer close(events)
				streamErr <- eventbridge.Stream(ctx, url, sessionID, func(e eventbridge.Event) {
					select {
					case events <- e:
					case <-ctx.Done():
					}
				})
			}()
			app := tui.NewApp(events, tui.WithTitle("⬡ DELIBERATE · "+url))
			if _, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("run TUI: %w", err)
			}
			cancel()
			if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "addr", "", "bridge base URL (default from bridge.addr)")
	cmd.Flags().BoolVar(&plain, "plain", false, "print events as lines instead of the TUI")
	return cmd
}
