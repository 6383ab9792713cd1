package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/deliberate/internal/report"
	"github.com/kingrea/deliberate/internal/store"
)

func showCmd() *cobra.Command {
	var (
		votes    bool
		session  string
		logLines int
		list     bool
		latest   bool
	)
	cmd := &cobra.Command{
		Use:   "show [results.json]",
		Short: "Print stored results as tables",
		Long: "Prints a results document. With no argument the newest stored session is " +
			"shown; --session picks one by id and --list prints what is stored.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			rt, err := openRuntime(projectDir, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()

			if list {
				records, err := rt.store.List(ctx)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fprintf(out, "No stored sessions.\n")
				}
				for _, rec := range records {
					fprintf(out, "%s  %-24s  %s  %s\n", rec.CreatedAt.Format("2006-01-02 15:04"), rec.Name, rec.SessionID, rec.Location)
				}
				return nil
			}

			var rec store.Record
			switch {
			case len(args) == 1 && !latest:
				rec, err = store.ReadFile(args[0])
			case session != "" && !latest:
				rec, err = rt.store.Load(ctx, session)
			default:
				rec, err = store.Latest(ctx, rt.store)
			}
			if errors.Is(err, store.ErrNotFound) && (latest || len(args) == 0 && session == "") {
				return fmt.Errorf("no stored results in %s; run a process first", rt.cfg.Root)
			}
			if err != nil {
				return err
			}
			r, err := report.Parse(rec.Body)
			if err != nil {
				return err
			}
			if err := r.Render(out, votes); err != nil {
				return err
			}
			if rec.Location != "" {
				fprintf(out, "\nSource: %s\n", rec.Location)
			}
			if logLines > 0 {
				lines, total := rt.journal.Tail(logLines)
				if len(lines) > 0 {
					fprintf(out, "\nJournal (last %d of %d):\n%s\n", len(lines), total, strings.Join(lines, "\n"))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&votes, "votes", false, "include individual ballots")
	cmd.Flags().StringVar(&session, "session", "", "session id to load from the store")
	cmd.Flags().IntVar(&logLines, "log", 0, "also print this many journal lines")
	cmd.Flags().BoolVar(&list, "list", false, "list stored sessions instead")
	cmd.Flags().BoolVar(&latest, "latest", false, "show the newest stored session even when a file or id is given")
	return cmd
}
