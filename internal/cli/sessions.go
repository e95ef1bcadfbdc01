package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/app"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const purgeBatch = 500

// SessionsCmd returns the sessions command.
func SessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and purge stored conversation sessions",
	}

	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsPurgeCmd())
	cmd.AddCommand(sessionsResetCmd())

	return cmd
}

func sessionsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently active sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := openApp(cmd, app.Options{Offline: true, NoTranscript: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sessions, err := a.Sessions.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sessions to show")
	return cmd
}

func printSessions(out io.Writer, sessions []*domain.TurnSession) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tINTENT\tPENDING\tITER\tMESSAGES\tUPDATED")
	for _, s := range sessions {
		intent := s.Intent
		if intent == "" {
			intent = "-"
		}
		pending := strings.Join(s.Pending, ",")
		if pending == "" {
			pending = "-"
		} else {
			pending = color.New(color.FgYellow).Sprint(pending)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.Key, intent, pending, s.Iterations, len(s.History), s.UpdatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func sessionsPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	var all bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete idle sessions",
		Long: `Delete sessions idle for longer than --older-than (default SESSION_TTL), or every
session with --all.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := openApp(cmd, app.Options{Offline: true, NoTranscript: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var deleted int64
			if all {
				for {
					sessions, err := a.Sessions.List(cmd.Context(), purgeBatch)
					if err != nil {
						return err
					}
					if len(sessions) == 0 {
						break
					}
					for _, s := range sessions {
						if err := a.Sessions.Reset(cmd.Context(), s.Key); err != nil {
							return err
						}
						deleted++
					}
				}
			} else {
				ttl := olderThan
				if ttl <= 0 {
					ttl = cfg.SessionTTL
				}
				deleted, err = a.Store.DeleteIdleTurnSessions(cmd.Context(), ttl)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d sessions\n", deleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "idle time after which a session is purged")
	cmd.Flags().BoolVar(&all, "all", false, "delete every session")
	return cmd
}

func sessionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-key>",
		Short: "Drop one session, e.g. whatsapp:+919876543210",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd, app.Options{Offline: true, NoTranscript: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Sessions.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset\n", args[0])
			return nil
		},
	}
}
