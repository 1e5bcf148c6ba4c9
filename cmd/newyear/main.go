// Package main provides the newyear binary: the celebration server plus a few
// terminal helpers.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohnPlummer/jp-go-newyear/internal/config"
	"github.com/JohnPlummer/jp-go-newyear/internal/countdown"
	"github.com/JohnPlummer/jp-go-newyear/internal/gemini"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "newyear"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "New Year celebration server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(flags), greetCmd(flags), countdownCmd(flags), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger, err := newLogger(cfg.Logging, logOut)
	if err != nil {
		return err
	}
	logger.Info("starting "+appName, "version", Version, "config", cfg)

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	return app.server.Run(ctx)
}

func greetCmd(flags *globalFlags) *cobra.Command {
	var (
		to   string
		tone string
	)

	cmd := &cobra.Command{
		Use:   "greet",
		Short: "Generate a greeting and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			t, err := gemini.ParseTone(tone)
			if err != nil {
				return err
			}
			if to == "" {
				to = cfg.Server.DefaultRecipient
			}

			logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			client, err := newClient(cfg, logger, nil)
			if err != nil {
				return err
			}

			message, err := client.GenerateGreeting(cmd.Context(), to, t)
			if err != nil {
				return fmt.Errorf("generate greeting: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Recipient (defaults to server.default_recipient)")
	cmd.Flags().StringVar(&tone, "tone", string(gemini.ToneInspiring), "Tone (inspiring, funny, poetic, bold)")
	return cmd
}

func countdownCmd(flags *globalFlags) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "countdown",
		Short: "Print the time left until the New Year",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := config.LoadCountdown(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			loc, err := cc.Zone()
			if err != nil {
				return err
			}
			clock := func() time.Time { return time.Now().In(loc) }

			out := cmd.OutOrStdout()
			if !watch {
				fmt.Fprintln(out, formatSnapshot(countdown.Evaluate(clock(), nil)))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchCountdown(ctx, out,
				countdown.WithInterval(cc.Interval),
				countdown.WithClock(clock),
			)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep printing every tick until interrupted")
	return cmd
}

// watchCountdown prints one line per tick until ctx is done.
func watchCountdown(ctx context.Context, out io.Writer, opts ...countdown.TimerOption) error {
	lines := make(chan string, 1)
	publish := func(s countdown.Snapshot) {
		select {
		case lines <- formatSnapshot(s):
		default:
		}
	}

	timer := countdown.NewTimer(publish, opts...)
	if err := timer.Start(ctx); err != nil {
		return err
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(out, line)
		}
	}
}

func formatSnapshot(s countdown.Snapshot) string {
	if s.State == countdown.Elapsed {
		return "Happy New Year!"
	}
	return fmt.Sprintf("%d days %02d:%02d:%02d until %d",
		s.Days, s.Hours, s.Minutes, s.Seconds, s.Target.Year())
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		if _, err := config.ParseLevel(flags.logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}
