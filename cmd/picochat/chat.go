package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sipeed/picochat/pkg/exchange"
	"github.com/sipeed/picochat/pkg/terminal"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long: `Starts an interactive conversation. Commands:
  /clear          start over
  /attach <file>  report a file as attached
  /endpoint <url> send queries to another endpoint
  /quit           leave`,
	RunE: runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func printerOptions(interactive bool) terminal.Options {
	return terminal.Options{
		Color:          interactive && cfg.Channels.Terminal.Color,
		HighlightStyle: cfg.Channels.Terminal.HighlightStyle,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	rl, err := terminal.NewReader()
	if err != nil {
		return fmt.Errorf("opening terminal: %w", err)
	}
	defer rl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	ctrl := newController()
	printer := terminal.NewPrinter(out, printerOptions(term.IsTerminal(int(os.Stdout.Fd()))))
	for _, m := range ctrl.Messages() {
		printer.PrintMessage(m)
	}
	ctrl.Subscribe(printer)

	return terminal.Run(ctx, ctrl, rl, out)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctrl := newController()
	outcome := ""
	ctrl.Subscribe(exchange.ObserverFunc(func(e exchange.Event) {
		if e.Type == exchange.EventExchangeCompleted {
			outcome = e.Outcome
		}
	}))

	msg, err := ctrl.Submit(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message is empty")
	}

	terminal.NewPrinter(cmd.OutOrStdout(), printerOptions(false)).PrintMessage(msg)
	if outcome != "ok" {
		return fmt.Errorf("query failed: %s", outcome)
	}
	return nil
}
