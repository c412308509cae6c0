package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voiceorb/pkg/channels"
	"voiceorb/pkg/gateway"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/speech/elevenlabs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the widget on every configured channel",
	Long: `Start every channel listed in the "channels" block of the config
(web, telegram) and serve until interrupted. The config file is watched and
reloads apply to sessions opened afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, loadRuntime())
	},
}

func serve(ctx context.Context, rt *runtime) error {
	loaded := channels.LoadFromConfig(rt.store.Get().Channels, rt.system)
	if len(loaded) == 0 {
		return fmt.Errorf("no channels configured")
	}

	gw, err := gateway.NewGatewayBuilder().
		WithConfigStore(rt.store).
		WithSystemConfig(rt.system).
		WithMonitor(monitor.NewCLIMonitor()).
		WithRelays(rt.relays...).
		WithVoiceDialer(elevenlabs.Dial).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	// A channel that fails cancels gctx, which stops the others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.store.Follow(gctx)
		return nil
	})
	for _, ch := range loaded {
		g.Go(func() error {
			return gw.Serve(gctx, ch)
		})
	}

	err = g.Wait()
	if err != nil {
		slog.Error("Channel failed, shutting down", "error", err)
	} else {
		slog.Info("Received shutdown signal. Stopping services...")
	}
	gw.StopAll()
	slog.Info("Bye!")
	return err
}
