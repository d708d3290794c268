package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/bridge"
	"github.com/xkilldash9x/keybridge/internal/observability"
	"github.com/xkilldash9x/keybridge/internal/service"
)

const chatHelp = `Type a task for the model, or one of:
  /analyze   run the page analysis prompt
  /snapshot  print the current state as JSON
  /hide      hide the overlay panel
  /reset     archive the transcript and start over
  /quit      leave the chat`

func newChatCmd(factory service.ComponentFactory) *cobra.Command {
	chatCmd := &cobra.Command{
		Use:   "chat <url>",
		Short: "Chats with the model about a page from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			noOverlay, _ := cmd.Flags().GetBool("no-overlay")
			historyFlag, _ := cmd.Flags().GetString("history")
			historyFile, err := homedir.Expand(historyFlag)
			if err != nil {
				return fmt.Errorf("expanding history path: %w", err)
			}

			target := normalizeURL(args[0])
			components, err := factory.Create(ctx, cfg, service.Options{URL: target, NoOverlay: noOverlay}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize session components: %w", err)
			}
			defer components.Shutdown()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "keybridge> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "/quit",
				Stdout:          cmd.OutOrStdout(),
			})
			if err != nil {
				return fmt.Errorf("initializing readline: %w", err)
			}
			defer rl.Close()

			// The panel stays usable while the terminal is in charge.
			serveCtx, stopServe := context.WithCancel(ctx)
			served := make(chan struct{})
			go func() {
				defer close(served)
				if err := components.Session.Serve(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Overlay loop stopped.", zap.Error(err))
				}
			}()
			defer func() {
				stopServe()
				<-served
			}()

			repl := &chatREPL{
				sess:   components.Session,
				out:    cmd.OutOrStdout(),
				render: newMarkdownRenderer(logger),
			}
			fmt.Fprintf(repl.out, "Attached to %s. Type /help for commands.\n", target)
			return repl.run(ctx, rl)
		},
	}

	chatCmd.Flags().Bool("no-overlay", false, "Do not inject the overlay panel into the page.")
	chatCmd.Flags().Bool("headless", false, "Run the browser without a window. (Overrides config/env)")
	chatCmd.Flags().String("remote-url", "", "Attach to a running browser's DevTools URL instead of launching one.")
	chatCmd.Flags().String("history", "~/.keybridge_history", "File holding the prompt history.")
	return chatCmd
}

// chatSession is the part of bridge.Session the terminal chat uses.
type chatSession interface {
	RunChat(ctx context.Context, message string) error
	RunAnalysis(ctx context.Context) error
	Hide(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot() schemas.Snapshot
}

// lineReader is satisfied by *readline.Instance.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

type chatREPL struct {
	sess   chatSession
	out    io.Writer
	render func(markdown string) string
}

// run reads lines until EOF, /quit or ctx is cancelled.
func (r *chatREPL) run(ctx context.Context, lines lineReader) error {
	stop := context.AfterFunc(ctx, func() { _ = lines.Close() })
	defer stop()

	for {
		line, err := lines.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if ctx.Err() != nil {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		quit, err := r.handle(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if quit {
			return nil
		}
	}
}

// handle runs one input line and reports whether the chat should end.
func (r *chatREPL) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/snapshot":
		js, err := r.sess.Snapshot().RedactedJSON()
		if err != nil {
			return false, fmt.Errorf("rendering snapshot: %w", err)
		}
		fmt.Fprintln(r.out, js)
	case "/hide":
		if err := r.sess.Hide(ctx); err != nil {
			if !errors.Is(err, bridge.ErrNoSurface) {
				return false, err
			}
			fmt.Fprintln(r.out, "No overlay in this session.")
		}
	case "/reset":
		if err := r.sess.Reset(ctx); err != nil {
			fmt.Fprintf(r.out, "Transcript cleared; archiving failed: %v\n", err)
			return false, nil
		}
		fmt.Fprintln(r.out, "Transcript cleared.")
	case "/analyze":
		if err := r.sess.RunAnalysis(ctx); err != nil {
			return false, err
		}
		r.printDecision(r.sess.Snapshot())
	default:
		if strings.HasPrefix(line, "/") && !strings.ContainsAny(line, " \t") {
			fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", line)
			return false, nil
		}
		before := len(r.sess.Snapshot().ChatMessages)
		if err := r.sess.RunChat(ctx, line); err != nil {
			return false, err
		}
		r.printReply(r.sess.Snapshot(), before)
	}
	return false, nil
}

// printReply prints assistant entries added after index from, or the
// observation when the round added none.
func (r *chatREPL) printReply(snap schemas.Snapshot, from int) {
	replied := false
	if from <= len(snap.ChatMessages) {
		for _, m := range snap.ChatMessages[from:] {
			if m.Role != schemas.RoleAssistant {
				continue
			}
			fmt.Fprint(r.out, r.render(asMarkdown(m.Content)))
			replied = true
		}
	}
	if !replied && snap.Observation != "" {
		fmt.Fprintln(r.out, snap.Observation)
		return
	}
	r.printActions(snap)
}

func (r *chatREPL) printDecision(snap schemas.Snapshot) {
	if snap.Status == schemas.StatusError {
		fmt.Fprintln(r.out, snap.Observation)
		return
	}
	if snap.Thought != "" {
		fmt.Fprint(r.out, r.render(snap.Thought))
	}
	r.printActions(snap)
	if snap.Observation != "" {
		fmt.Fprintf(r.out, "Observation: %s\n", snap.Observation)
	}
}

func (r *chatREPL) printActions(snap schemas.Snapshot) {
	if snap.Action != "" {
		fmt.Fprintf(r.out, "Action: %s\n", snap.Action)
	}
	if snap.NextAction != "" {
		fmt.Fprintf(r.out, "Next: %s\n", snap.NextAction)
	}
}

// asMarkdown fences JSON replies so they render as code.
func asMarkdown(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return "```json\n" + trimmed + "\n```"
	}
	return content
}

// newMarkdownRenderer returns a glamour renderer, or plain passthrough when
// one cannot be built.
func newMarkdownRenderer(logger *zap.Logger) func(string) string {
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		logger.Debug("Markdown rendering disabled.", zap.Error(err))
		return plainText
	}
	return func(md string) string {
		out, err := tr.Render(md)
		if err != nil {
			return plainText(md)
		}
		return out
	}
}

func plainText(md string) string {
	if strings.HasSuffix(md, "\n") {
		return md
	}
	return md + "\n"
}
