package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-chat-stream/internal/client"
	"github.com/tbourn/go-chat-stream/internal/domain"
)

const version = "0.1.0"

// cli carries the resolved configuration between cobra hooks and commands.
type cli struct {
	configPath string
	flags      cliConfig
	cfg        cliConfig
	api        *client.Client
}

func newRootCmd() *cobra.Command {
	st := &cli{}

	root := &cobra.Command{
		Use:     "chatctl",
		Short:   "Chat with a go-chat-stream server from the terminal",
		Version: version,
		Long: `chatctl creates chats, sends messages and prints the assistant's answer
while it is generated. Settings are read from ~/.chatctl.toml and can be
overridden with flags.`,
		Example: `  # Start a chat and talk to it
  $ chatctl new "Trip planning"
  $ chatctl send <chat-id> "Plan a three day trip to Lisbon"

  # Try another answer, read the history, stop a running turn
  $ chatctl regenerate <chat-id> <message-id>
  $ chatctl history <chat-id>
  $ chatctl stop <chat-id>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.resolve(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&st.configPath, "config", defaultConfigPath(), "config file")
	pf.StringVarP(&st.flags.Server, "server", "s", "", "API server address")
	pf.StringVar(&st.flags.Token, "token", "", "bearer token (JWT mode)")
	pf.StringVarP(&st.flags.User, "user", "u", "", "user id sent in demo mode")
	pf.StringVarP(&st.flags.Model, "model", "m", "", "model override for turns")

	root.AddCommand(
		st.newCmd(),
		st.sendCmd(),
		st.regenerateCmd(),
		st.historyCmd(),
		st.statusCmd(),
		st.stopCmd(),
		st.configureCmd(),
	)
	return root
}

// resolve merges the config file with explicit flags and builds the client.
func (s *cli) resolve(cmd *cobra.Command) error {
	cfg, err := loadConfig(s.configPath)
	if err != nil {
		return err
	}
	pf := cmd.Flags()
	if pf.Changed("server") {
		cfg.Server = s.flags.Server
	}
	if pf.Changed("token") {
		cfg.Token = s.flags.Token
	}
	if pf.Changed("user") {
		cfg.User = s.flags.User
	}
	if pf.Changed("model") {
		cfg.Model = s.flags.Model
	}
	s.cfg = cfg

	api, err := client.New(cfg.Server, cfg.Token, cfg.User)
	if err != nil {
		return err
	}
	s.api = api
	return nil
}

func (s *cli) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "create a chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			ch, err := s.api.CreateChat(cmd.Context(), title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ch.ID, ch.Title)
			return nil
		},
	}
}

func (s *cli) sendCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "send <chat-id> <text...>",
		Short: "send a message and stream the answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			out := cmd.OutOrStdout()
			msg, err := s.api.Send(cmd.Context(), args[0], text, client.TurnOptions{
				Model:          s.cfg.Model,
				IdempotencyKey: key,
				OnEvent:        printDeltas(out),
			})
			return finishTurn(out, msg, err)
		},
	}
	cmd.Flags().StringVar(&key, "idempotency-key", "", "reuse a key to safely retry a send")
	return cmd
}

func (s *cli) regenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <chat-id> <message-id>",
		Short: "replace an assistant message with a new answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			msg, err := s.api.Regenerate(cmd.Context(), args[0], args[1], client.TurnOptions{
				Model:   s.cfg.Model,
				OnEvent: printDeltas(out),
			})
			return finishTurn(out, msg, err)
		},
	}
}

func (s *cli) historyCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history <chat-id>",
		Short: "print a chat's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := s.api.History(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range h.Messages {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.ID, m.Role, m.Content)
			}
			if h.HasMore {
				fmt.Fprintf(out, "(%d of %d shown, use --offset %d for older)\n", len(h.Messages), h.Total, h.Offset+len(h.Messages))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "messages per page (server default when 0)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many of the newest messages")
	return cmd
}

func (s *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <chat-id>",
		Short: "show the chat's running turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.api.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func (s *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <chat-id>",
		Short: "stop the chat's running turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.api.Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !st.Stopped {
				fmt.Fprintln(cmd.OutOrStdout(), "no turn running")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", st.MessageID)
			return nil
		},
	}
}

func (s *cli) configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "save the given flags to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s.configPath == "" {
				return errors.New("no config path; pass --config")
			}
			if err := s.api.Ping(context.WithoutCancel(cmd.Context())); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s is not reachable: %v\n", s.cfg.Server, err)
			}
			if err := saveConfig(s.configPath, s.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", s.configPath)
			return nil
		},
	}
}

// printDeltas renders the growing answer. Deltas carry the full text so far,
// so only the new suffix is written.
func printDeltas(out io.Writer) func(client.TurnEvent) {
	var shown string
	return func(ev client.TurnEvent) {
		if ev.Type != "delta" && ev.Type != "committed" {
			return
		}
		if strings.HasPrefix(ev.Content, shown) {
			fmt.Fprint(out, ev.Content[len(shown):])
		} else {
			fmt.Fprintf(out, "\n%s", ev.Content)
		}
		shown = ev.Content
	}
}

func finishTurn(out io.Writer, msg *domain.Message, err error) error {
	fmt.Fprintln(out)
	if errors.Is(err, client.ErrTurnFailed) && msg != nil {
		fmt.Fprintln(out, msg.Content)
	}
	if err != nil {
		return err
	}
	if msg != nil {
		fmt.Fprintf(out, "(%s)\n", msg.ID)
	}
	return nil
}

func printStatus(out io.Writer, st *client.TurnStatus) {
	if !st.InProgress {
		fmt.Fprintln(out, "idle")
		return
	}
	fmt.Fprintf(out, "%s %s\n", st.State, st.MessageID)
}
