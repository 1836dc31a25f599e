package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"neonhub/internal/render"
	"neonhub/internal/usecase"
)

func askCmd(opts *rootOptions) *cobra.Command {
	var (
		raw   bool
		code  bool
		width int
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask one question from the terminal",
		Long: "Ask one question and print the reply. Use \"-\" as the question to read it\n" +
			"from stdin, which is handy for pasting a whole script. With --code only the\n" +
			"code blocks of the reply are printed, ready to pipe into a .lua file.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question := strings.Join(args, " ")
			if question == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("ask: read stdin: %w", err)
				}
				question = string(b)
			}

			chat, closeChat, err := buildChat(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeChat() }()

			session, err := chat.NewSession(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			emit := func(ev usecase.Event) error {
				if raw && ev.Type == usecase.EventDelta {
					_, err := io.WriteString(out, ev.Delta)
					return err
				}
				return nil
			}
			res, err := chat.Send(ctx, usecase.SendInput{SessionID: session.ID, Text: question}, emit)
			if err != nil {
				// A failed turn still carries the notice shown in the chat.
				if !raw && res.Reply.Content != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), res.Reply.Content)
				}
				return err
			}

			if raw {
				_, err := fmt.Fprintln(out)
				return err
			}
			if code {
				return writeCodeBlocks(out, res.Reply.Content)
			}
			rendered, err := render.Terminal(res.Reply.Content, width)
			if err != nil {
				return err
			}
			_, err = io.WriteString(out, rendered)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "stream the raw Markdown instead of rendering it")
	cmd.Flags().BoolVar(&code, "code", false, "print only the code blocks of the reply")
	cmd.Flags().IntVar(&width, "width", 80, "wrap width for rendered output")
	cmd.MarkFlagsMutuallyExclusive("raw", "code")
	return cmd
}

// writeCodeBlocks prints each code block of content, separated by a blank line.
func writeCodeBlocks(w io.Writer, content string) error {
	blocks := render.CodeBlocks(content)
	if len(blocks) == 0 {
		return errors.New("ask: the reply has no code blocks")
	}
	for i, b := range blocks {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		code := b.Code
		if !strings.HasSuffix(code, "\n") {
			code += "\n"
		}
		if _, err := io.WriteString(w, code); err != nil {
			return err
		}
	}
	return nil
}
