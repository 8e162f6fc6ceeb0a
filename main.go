package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/n0madic/go-turnkit/internal/orchestrator"
	"github.com/n0madic/go-turnkit/internal/server"
	"github.com/n0madic/go-turnkit/internal/stream"
)

//go:embed prompts/instructions.md
var defaultInstructions string

// version can be overridden at build time via -ldflags "-X main.version=1.2.3".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "turnkit",
	Short:         "Tool-calling turn orchestration for Responses-style model services",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("TURNKIT_CONFIG", "turnkit.yaml"), "Path to the YAML config file")
	rootCmd.AddCommand(newRunCmd(), newServeCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		message            string
		chatID             string
		previousResponseID string
		toolsURL           string
		manifestPath       string
		showProgress       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one turn and print its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" && len(args) > 0 {
				message = strings.Join(args, " ")
			}
			if strings.TrimSpace(message) == "" && previousResponseID == "" {
				return errors.New("a message is required (--message or positional text)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, configPath, newCLIExecutor(toolsURL, os.Stderr))
			if err != nil {
				return err
			}
			defer a.Close()

			req := orchestrator.Request{
				ChatID:             chatID,
				Text:               message,
				PreviousResponseID: previousResponseID,
			}
			if manifestPath != "" {
				manifest, err := readManifest(manifestPath)
				if err != nil {
					return err
				}
				req.Manifest = manifest
			}
			if showProgress {
				req.OnEvent = func(evt *stream.Event) {
					if strings.HasPrefix(evt.Type, "background.") {
						fmt.Fprintln(os.Stderr, color.HiBlackString("%s %s", evt.Type, evt.Raw))
					}
				}
			}

			out, err := a.orch.Run(ctx, req)
			if err != nil {
				printFailure(os.Stdout, err)
				return fmt.Errorf("turn failed (%s)", orchestrator.ErrorKind(err))
			}
			printOutcome(os.Stdout, out)
			printRateLimits(os.Stdout, a.client.Limits)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "User message")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "Chat id for history, pending questions and single-flight")
	cmd.Flags().StringVar(&previousResponseID, "previous-response-id", "", "Continue from this remote response id")
	cmd.Flags().StringVar(&toolsURL, "tools-url", "", "Forward tool calls as JSON POSTs to this URL")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "JSON file with the project context manifest")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Print background job progress to stderr")
	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		toolsURL string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, configPath, newCLIExecutor(toolsURL, os.Stderr))
			if err != nil {
				return err
			}
			defer a.Close()

			stopWatch, err := a.loader.Watch()
			if err != nil {
				slog.Warn("config.watch_failed", "path", configPath, "error", err)
			} else {
				defer stopWatch()
			}

			cfg := a.loader.Config().Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			srv := server.New(cfg, server.Options{
				Runner:   a.orch,
				History:  a.history,
				Gatherer: a.registry,
				Version:  version,
			})

			errCh := make(chan error, 1)
			go func() {
				slog.Info("turnkit starting", "addr", srv.Addr(), "version", version)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				slog.Info("received shutdown signal")
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			slog.Info("turnkit stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().StringVar(&toolsURL, "tools-url", "", "Forward tool calls as JSON POSTs to this URL")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "turnkit "+version)
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
