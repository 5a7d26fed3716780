package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dbagent/internal/app"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/formatter"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const chatHelp = `Ask anything about your data. Follow-up questions see the conversation so far.
  /schema   print the database schema
  /reset    forget the conversation
  /exit     leave (Ctrl-D works too)`

type ChatCmd struct {
	flags       *globalFlags
	historyFile string
}

func NewChatCmd(flags *globalFlags) *ChatCmd {
	return &ChatCmd{flags: flags}
}

func (c *ChatCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session that keeps the conversation between questions",
		Args:  cobra.NoArgs,
		RunE: withApp(c.flags, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:            "dbagent> ",
				HistoryFile:       c.historyPath(),
				InterruptPrompt:   "^C",
				EOFPrompt:         "/exit",
				HistorySearchFold: true,
				AutoComplete: readline.NewPrefixCompleter(
					readline.PcItem("/schema"),
					readline.PcItem("/reset"),
					readline.PcItem("/exit"),
				),
			})
			if err != nil {
				return fmt.Errorf("failed to start line editor: %w", err)
			}
			defer rl.Close()

			s := &chatSession{app: a, out: rl.Stdout()}
			fmt.Fprintln(s.out, chatHelp)
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if !s.handle(ctx, strings.TrimSpace(line)) {
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		}),
	}
	cmd.Flags().StringVar(&c.historyFile, "history-file", "", "readline history file (default ~/.dbagent_history)")
	return cmd
}

func (c *ChatCmd) historyPath() string {
	if c.historyFile != "" {
		return c.historyFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dbagent_history")
}

// chatSession holds the conversation of one chat.
type chatSession struct {
	app     *app.App
	out     io.Writer
	history []ports.Message
}

// handle processes one input line. It returns false when the user leaves.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	switch line {
	case "":
		return true
	case "/exit", "/quit":
		return false
	case "/reset":
		s.history = nil
		fmt.Fprintln(s.out, "Conversation cleared.")
		return true
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
		return true
	case "/schema":
		sc, err := s.app.Service.Schema(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return true
		}
		fmt.Fprintln(s.out, sc.String())
		return true
	}
	if strings.HasPrefix(line, "/") {
		fmt.Fprintf(s.out, "unknown command %s, try /help\n", line)
		return true
	}

	resp, err := s.app.Service.RunWithHistory(ctx, line, s.history)
	if resp == nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return true
	}
	var text strings.Builder
	if err := formatter.RenderText(&text, resp, s.app.Config.Formatter.MaxRows); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return true
	}
	fmt.Fprint(s.out, text.String())

	s.history = append(s.history,
		ports.Message{Role: ports.RoleUser, Content: line},
		ports.Message{Role: ports.RoleAssistant, Content: text.String()},
	)
	return true
}
