package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "CHATPROBE"
	envConfigDefaultPath = "CHATPROBE_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars
// and bound flags, and returns the resolved path.
// Precedence: defaults < config file < env vars < flags.
func Load(logger *zerolog.Logger, explicitPath string, flags *pflag.FlagSet) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return cfg, "", err
		}
	}

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so env vars reach nested fields.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("user.id", cfg.User.ID)
	v.SetDefault("user.token", cfg.User.Token)
	v.SetDefault("user.name", cfg.User.Name)

	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.send_path", cfg.Backend.SendPath)
	v.SetDefault("backend.request_timeout", cfg.Backend.RequestTimeout)

	v.SetDefault("realtime.url", cfg.Realtime.URL)
	v.SetDefault("realtime.path", cfg.Realtime.Path)
	v.SetDefault("realtime.namespace", cfg.Realtime.Namespace)
	v.SetDefault("realtime.protocol", cfg.Realtime.Protocol)
	v.SetDefault("realtime.connect_timeout", cfg.Realtime.ConnectTimeout)

	v.SetDefault("chat.receiver_id", cfg.Chat.ReceiverID)
	v.SetDefault("chat.require_connection", cfg.Chat.RequireConnection)
	v.SetDefault("chat.suppress_echo", cfg.Chat.SuppressEcho)
	v.SetDefault("chat.echo_window", cfg.Chat.EchoWindow)

	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)

	v.SetDefault("stub.addr", cfg.Stub.Addr)
	v.SetDefault("stub.jwt_secret", cfg.Stub.JWTSecret)
	v.SetDefault("stub.jwt_issuer", cfg.Stub.JWTIssuer)
	v.SetDefault("stub.echo_to_sender", cfg.Stub.EchoToSender)
	v.SetDefault("stub.ping_interval", cfg.Stub.PingInterval)
	v.SetDefault("stub.ping_timeout", cfg.Stub.PingTimeout)
	v.SetDefault("stub.read_header_timeout", cfg.Stub.ReadHeaderTimeout)
	v.SetDefault("stub.shutdown_timeout", cfg.Stub.ShutdownTimeout)
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"user-id":       "user.id",
	"token":         "user.token",
	"name":          "user.name",
	"backend":       "backend.base_url",
	"realtime":      "realtime.url",
	"protocol":      "realtime.protocol",
	"receiver":      "chat.receiver_id",
	"store":         "store.path",
	"log-level":     "log.level",
	"log-file":      "log.file",
	"addr":          "stub.addr",
	"jwt-secret":    "stub.jwt_secret",
	"echo":          "stub.echo_to_sender",
	"suppress-echo": "chat.suppress_echo",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
