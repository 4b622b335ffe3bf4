package config

import (
	"errors"
	"fmt"
	"time"
)

// UserConfig is the static identity the client acts as.
type UserConfig struct {
	ID    int64  `mapstructure:"id" yaml:"id"`
	Token string `mapstructure:"token" yaml:"token"`
	Name  string `mapstructure:"name" yaml:"name"`
}

// BackendConfig points at the HTTP send endpoint.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	SendPath       string        `mapstructure:"send_path" yaml:"send_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// RealtimeConfig points at the Socket.IO endpoint.
type RealtimeConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Path           string        `mapstructure:"path" yaml:"path"`
	Namespace      string        `mapstructure:"namespace" yaml:"namespace"`
	Protocol       string        `mapstructure:"protocol" yaml:"protocol"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// ChatConfig holds send and display behaviour.
type ChatConfig struct {
	ReceiverID        int64         `mapstructure:"receiver_id" yaml:"receiver_id"`
	RequireConnection bool          `mapstructure:"require_connection" yaml:"require_connection"`
	SuppressEcho      bool          `mapstructure:"suppress_echo" yaml:"suppress_echo"`
	EchoWindow        time.Duration `mapstructure:"echo_window" yaml:"echo_window"`
}

// StoreConfig enables the transcript store when Path is set.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// StubConfig configures the local stub backend.
type StubConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	EchoToSender      bool          `mapstructure:"echo_to_sender" yaml:"echo_to_sender"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Config holds client configuration values.
type Config struct {
	User     UserConfig     `mapstructure:"user" yaml:"user"`
	Backend  BackendConfig  `mapstructure:"backend" yaml:"backend"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Chat     ChatConfig     `mapstructure:"chat" yaml:"chat"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Stub     StubConfig     `mapstructure:"stub" yaml:"stub"`
}

// Default returns configuration pointing at a local stub backend.
func Default() Config {
	return Config{
		User: UserConfig{
			ID:   199,
			Name: "User 199",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8080",
			SendPath:       "/api/group_chat/add-group_chat",
			RequestTimeout: 15 * time.Second,
		},
		Realtime: RealtimeConfig{
			URL:            "http://localhost:8080",
			Path:           "/socket.io/",
			Namespace:      "/",
			Protocol:       "v4",
			ConnectTimeout: 10 * time.Second,
		},
		Chat: ChatConfig{
			ReceiverID: 197,
			EchoWindow: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Stub: StubConfig{
			Addr:              ":8080",
			PingInterval:      25 * time.Second,
			PingTimeout:       20 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}

// Validate checks the fields the client needs to talk to a backend.
func (c *Config) Validate() error {
	var errs []error
	if c.User.ID == 0 {
		errs = append(errs, errors.New("user.id is required"))
	}
	if c.User.Token == "" {
		errs = append(errs, errors.New("user.token is required"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Realtime.URL == "" {
		errs = append(errs, errors.New("realtime.url is required"))
	}
	switch c.Realtime.Protocol {
	case "v3", "v4":
	default:
		errs = append(errs, fmt.Errorf("realtime.protocol must be v3 or v4, got %q", c.Realtime.Protocol))
	}
	if c.Chat.EchoWindow < 0 {
		errs = append(errs, errors.New("chat.echo_window must not be negative"))
	}
	return errors.Join(errs...)
}

// DisplayName falls back to "User <id>" when no name is configured.
func (c *Config) DisplayName() string {
	if c.User.Name != "" {
		return c.User.Name
	}
	return fmt.Sprintf("User %d", c.User.ID)
}
