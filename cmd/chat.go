package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailroute/mailroute/config"
	"github.com/mailroute/mailroute/credentials"
	"github.com/mailroute/mailroute/pkg/chat"
	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/reasoning"
)

var chatTrusted bool

// ChatCommandDeps holds the dependencies for the chat command.
type ChatCommandDeps struct {
	LoadConfig func() (*config.Config, error)

	// NewSession builds the assistant session and a cleanup func.
	NewSession func(cfg *config.Config, trusted bool) (*chat.Session, func(), error)

	// In and Out default to stdin/stdout. Injectable for tests.
	In  io.Reader
	Out io.Writer
}

// DefaultChatDeps returns the default dependencies for production use.
func DefaultChatDeps() *ChatCommandDeps {
	return &ChatCommandDeps{
		LoadConfig: config.Load,
		NewSession: func(cfg *config.Config, trusted bool) (*chat.Session, func(), error) {
			store, err := credentials.NewStore()
			if err != nil {
				return nil, nil, fmt.Errorf("opening credential store: %w", err)
			}
			creds, err := store.All()
			if err != nil {
				return nil, nil, fmt.Errorf("loading destination credentials: %w", err)
			}
			provider := reasoning.NewOpenAIProvider(cfg.Reasoning)
			client := destination.NewClient()
			session := chat.NewSession(provider, client, client, creds,
				chat.WithTrusted(trusted),
				chat.WithLogger(logging.MustGlobal()))
			return session, func() { provider.Close() }, nil
		},
		In:  os.Stdin,
		Out: os.Stdout,
	}
}

// NewChatCommand creates the 'chat' command.
func NewChatCommand(deps *ChatCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultChatDeps()
	}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the routing assistant interactively",
		Long: `Talk to the routing assistant interactively.

The assistant can list connected destinations, discover their schemas, and
write records. Writes ask for confirmation first; pass --trusted to write
immediately.

Type your message and press enter; an empty line or Ctrl-D exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), deps)
		},
	}

	cmd.Flags().BoolVar(&chatTrusted, "trusted", false, "Write records without per-write confirmation")

	return cmd
}

func runChat(ctx context.Context, deps *ChatCommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	trusted := chatTrusted || cfg.Chat.Trusted
	session, cleanup, err := deps.NewSession(cfg, trusted)
	if err != nil {
		return err
	}
	defer cleanup()

	out := deps.Out
	fmt.Fprintln(out, "mailroute assistant (empty line to exit)")

	var transcript []chat.Message
	scanner := bufio.NewScanner(deps.In)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}

		transcript = append(transcript, chat.Message{Role: chat.RoleUser, Content: line})

		final, err := session.Run(ctx, transcript, func(f chat.Fragment) {
			printFragment(out, f)
		})
		if err != nil {
			return err
		}
		if final.Content != "" {
			transcript = append(transcript, chat.Message{Role: chat.RoleAssistant, Content: final.Content})
		}
	}

	return scanner.Err()
}

// printFragment renders one streamed fragment for the terminal.
func printFragment(out io.Writer, f chat.Fragment) {
	switch f.Type {
	case chat.FragmentMessage:
		fmt.Fprintln(out, f.Content)
	case chat.FragmentAction:
		fmt.Fprintf(out, "  [%s]\n", f.Action)
	case chat.FragmentConfirm:
		fmt.Fprintln(out, f.Content)
		fmt.Fprintln(out, "Reply \"confirm\" to write these records, anything else to cancel.")
	case chat.FragmentFinal:
		if f.Error != "" {
			fmt.Fprintf(out, "error: %s\n", f.Error)
		} else if f.Write != nil {
			fmt.Fprintf(out, "Wrote %d record(s)", f.Write.InsertedCount)
			if len(f.Write.Errors) > 0 {
				fmt.Fprintf(out, ", %d rejected", len(f.Write.Errors))
			}
			fmt.Fprintln(out)
		}
	}
}
