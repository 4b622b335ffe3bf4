package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatprobe/internal/app"
	"github.com/vovakirdan/chatprobe/internal/auth"
	"github.com/vovakirdan/chatprobe/internal/ui"
)

func newRunCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the chat (tui or line mode)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fallbackLog := ""
			if mode == "tui" {
				fallbackLog = defaultTUILogFile
			}
			cfg, logger, closer, err := loadConfig(cmd, fallbackLog)
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.Start(ctx)

			switch mode {
			case "tui":
				return ui.NewTUI(a.Session(), cfg.DisplayName(), logger).Run(ctx)
			case "line":
				return ui.NewLine(a.Session(), cfg.DisplayName(), cmd.OutOrStdout(), logger).Run(ctx, cmd.InOrStdin())
			default:
				return fmt.Errorf("unknown mode %q", mode)
			}
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "tui", "front-end: tui or line")
	return cmd
}

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print received messages until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.Start(ctx)
			return ui.NewLine(a.Session(), cfg.DisplayName(), cmd.OutOrStdout(), logger).Run(ctx, nil)
		},
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if cfg.Chat.RequireConnection {
				a.Start(ctx)
				waitCtx, cancel := context.WithTimeout(ctx, cfg.Realtime.ConnectTimeout)
				err := a.WaitConnected(waitCtx)
				cancel()
				if err != nil {
					return err
				}
			}

			if err := a.Session().Send(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		sessionID string
		list      bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a recorded session (the latest by default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, closer, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			defer closer.Close()

			out := cmd.OutOrStdout()
			if list {
				sessions, err := app.Sessions(cmd.Context(), cfg, limit)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Fprintf(out, "%s  user=%d  started=%s  entries=%d\n", s.ID, s.UserID, s.StartedAt.Local().Format(time.RFC3339), s.Entries)
				}
				return nil
			}

			sess, bubbles, err := app.History(cmd.Context(), cfg, sessionID)
			if errors.Is(err, app.ErrNoTranscript) {
				fmt.Fprintln(out, "no recorded sessions")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "session %s (%d entries)\n", sess.ID, sess.Entries)
			for _, b := range bubbles {
				fmt.Fprintln(out, ui.FormatBubble(b, 0))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to show")
	cmd.Flags().BoolVar(&list, "list", false, "list recorded sessions")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func newStubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run a local stand-in for the chat backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			defer closer.Close()

			return app.NewStub(cfg.Stub, logger).Run(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("jwt-secret", "", "HS256 secret; empty accepts any token")
	cmd.Flags().Bool("echo", false, "also deliver messages to the sender's room")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		inspect bool
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a stub token, or inspect the configured one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, closer, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			defer closer.Close()

			out := cmd.OutOrStdout()
			if inspect {
				info, err := auth.Inspect(cfg.User.Token)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "sub=%d name=%q type=%q issued=%s expires=%s expired=%t\n",
					info.UserID, info.Name, info.Type,
					formatTime(info.IssuedAt), formatTime(info.ExpiresAt), info.Expired(time.Now()))
				return nil
			}

			if cfg.Stub.JWTSecret == "" {
				return errors.New("stub.jwt_secret is required to mint a token")
			}
			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret: []byte(cfg.Stub.JWTSecret),
				Issuer: cfg.Stub.JWTIssuer,
				TTL:    ttl,
			}, cfg.User.ID, cfg.User.Name)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&inspect, "inspect", false, "decode the configured token instead of minting")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
	cmd.Flags().String("jwt-secret", "", "HS256 secret used to sign")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
