package main

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatprobe/internal/config"
	logpkg "github.com/vovakirdan/chatprobe/internal/log"
)

const defaultTUILogFile = "chatprobe.log"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatprobe",
		Short:         "Terminal client for a Socket.IO chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to config file")
	flags.Int64("user-id", 0, "user id to act as")
	flags.String("token", "", "backend credential")
	flags.String("name", "", "display name")
	flags.String("backend", "", "base URL of the send endpoint")
	flags.String("realtime", "", "base URL of the socket.io endpoint")
	flags.String("protocol", "", "socket.io protocol revision (v4 or v3)")
	flags.Int64("receiver", 0, "receiver user id")
	flags.String("store", "", "sqlite transcript path")
	flags.Bool("suppress-echo", false, "hide server copies of your own messages")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "write logs to a file")

	root.AddCommand(
		newRunCmd(),
		newListenCmd(),
		newSendCmd(),
		newHistoryCmd(),
		newStubCmd(),
		newTokenCmd(),
	)
	return root
}

// loadConfig resolves configuration for cmd and opens the logger it asks
// for. fallbackLog is used when no log file is configured.
func loadConfig(cmd *cobra.Command, fallbackLog string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	explicit, _ := cmd.Flags().GetString("config")

	bootstrap := logpkg.New("warn")
	cfg, path, err := config.Load(bootstrap, explicit, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = fallbackLog
	}
	logger, closer, err := logpkg.Open(cfg.Log.Level, logFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return &cfg, logger, closer, nil
}
