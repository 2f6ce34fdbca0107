package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/picochat/pkg/channels"
	"github.com/sipeed/picochat/pkg/logger"
	"github.com/sipeed/picochat/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser chat widget",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rec := metrics.NewRecorder()
	ch, err := channels.NewWebChatChannel(cfg.Channels.WebChat, newController, rec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("starting webchat: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Chat widget on http://%s\n", cfg.WebChatAddr())

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ch.Stop(shutdownCtx)
}
