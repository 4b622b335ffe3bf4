package app

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/config"
	"github.com/vovakirdan/chatprobe/internal/stub"
)

// Stub runs the local backend stand-in.
type Stub struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// NewStub constructs the stub backend with provided configuration.
func NewStub(cfg config.StubConfig, logger *zerolog.Logger) *Stub {
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("stub.jwt_secret is empty, any token is accepted")
	}
	return &Stub{
		server:          stub.NewServer(cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Stub) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("stub backend listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.log.Info().Msg("shutting down stub backend")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
