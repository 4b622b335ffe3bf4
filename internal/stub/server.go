// Package stub is a minimal local stand-in for the chat backend: the send
// endpoint plus a Socket.IO endpoint that routes messages to user rooms.
package stub

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/auth"
	"github.com/vovakirdan/chatprobe/internal/config"
	"github.com/vovakirdan/chatprobe/internal/proto"
)

// SocketPath is where the Socket.IO endpoint is mounted.
const SocketPath = "/socket.io/"

// NewRouter builds the gin engine serving the backend routes.
func NewRouter(hub *Hub, cfg config.StubConfig, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	var jwtCfg *auth.JWTConfig
	if cfg.JWTSecret != "" {
		jwtCfg = &auth.JWTConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}
	}
	authenticator := NewAuthenticator(jwtCfg)

	router.GET("/health", healthHandler)

	sendHandlers := NewSendHandlers(hub, cfg.EchoToSender, logger)
	router.POST(proto.SendPath, TokenMiddleware(authenticator, logger), sendHandlers.Send)

	socket := NewSocketHandler(hub, authenticator, SocketOptions{
		Namespace:    hub.namespace,
		PingInterval: cfg.PingInterval,
		PingTimeout:  cfg.PingTimeout,
	}, logger)
	router.GET(SocketPath, gin.WrapH(socket))

	return router
}

// NewServer builds an HTTP server for the stub backend.
func NewServer(cfg config.StubConfig, logger *zerolog.Logger) *http.Server {
	hub := NewHub("", logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
