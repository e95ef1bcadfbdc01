package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/app"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Turner runs and resets turns; *session.Manager satisfies it.
type Turner interface {
	Handle(ctx context.Context, t session.Turn) (session.Outcome, error)
	Reset(ctx context.Context, key string) error
}

type chatOptions struct {
	Subject string
	Role    string
	JSON    bool
}

func (o chatOptions) turn(message string) session.Turn {
	return session.Turn{
		Subject: o.Subject,
		Message: message,
		Role:    authz.ParseRole(o.Role),
		Channel: pipeline.ChannelCLI,
	}
}

// ChatCmd returns the chat command.
func ChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Talk to the assistant",
		Long: `Run one turn with the given message, or start an interactive session when no
message is given. The conversation continues across invocations for the same --as
subject, so an incomplete request can be finished by a later call.

In the interactive session:
  /reset  drop the pending request and history
  /quit   leave (also: exit, Ctrl-D)

Examples:
  opsctl chat vehicle MH12AB1234
  opsctl chat --role driver
  opsctl chat --json trip 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if len(args) > 0 {
				return runOnce(cmd.Context(), a.Sessions, strings.Join(args, " "), cmd.OutOrStdout(), opts)
			}
			return runREPL(cmd.Context(), a.Sessions, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "as", "ops", "identity the session is kept under")
	cmd.Flags().StringVar(&opts.Role, "role", "owner", "actor role: owner, driver, customer")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the full turn outcome as JSON")

	return cmd
}

func runOnce(ctx context.Context, turns Turner, message string, out io.Writer, opts chatOptions) error {
	outcome, err := turns.Handle(ctx, opts.turn(message))
	if err != nil {
		fmt.Fprintf(out, "%s %v\n", color.New(color.FgYellow).Sprint("warning:"), err)
	}
	return printOutcome(out, outcome, opts.JSON)
}

func runREPL(ctx context.Context, turns Turner, in io.Reader, out io.Writer, opts chatOptions) error {
	key := opts.turn("").Key()
	fmt.Fprintf(out, "Chatting as %s (%s). /reset clears the session, /quit leaves.\n", opts.Subject, authz.ParseRole(opts.Role))

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, color.New(color.FgCyan).Sprint("> "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "quit", "exit":
			return nil
		case "/reset":
			if err := turns.Reset(ctx, key); err != nil {
				return err
			}
			fmt.Fprintln(out, "Session cleared.")
			continue
		}
		if err := runOnce(ctx, turns, line, out, opts); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type outcomeJSON struct {
	TurnID     string            `json:"turn_id"`
	Key        string            `json:"session_key"`
	Reply      string            `json:"reply"`
	Intent     string            `json:"intent"`
	LastResult *pipeline.Result  `json:"last_result"`
	Pending    []string          `json:"pending,omitempty"`
	Source     string            `json:"source,omitempty"`
	Trace      []pipeline.Action `json:"trace"`
}

func printOutcome(out io.Writer, o session.Outcome, asJSON bool) error {
	resp := o.Response
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomeJSON{
			TurnID:     o.TurnID,
			Key:        o.Key,
			Reply:      resp.Reply,
			Intent:     string(resp.Intent),
			LastResult: resp.LastResult,
			Pending:    resp.Pending,
			Source:     resp.Source,
			Trace:      resp.Trace,
		})
	}

	fmt.Fprintf(out, "%s %s\n", statusLabel(resp.LastResult), resp.Reply)
	if len(resp.Pending) > 0 {
		fmt.Fprintf(out, "  pending: %s\n", strings.Join(resp.Pending, ", "))
	}
	return nil
}

func statusLabel(r *pipeline.Result) string {
	if r == nil {
		return color.New(color.FgRed).Sprint("[error]")
	}
	label := "[" + string(r.Status) + "]"
	switch r.Status {
	case pipeline.StatusOK:
		return color.New(color.FgGreen).Sprint(label)
	case pipeline.StatusIncomplete:
		return color.New(color.FgYellow).Sprint(label)
	default:
		return color.New(color.FgRed).Sprint(label)
	}
}
