package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vnguyen/genie-bridge/internal/bot"
	"github.com/vnguyen/genie-bridge/internal/config"
	"github.com/vnguyen/genie-bridge/internal/handler"
	"github.com/vnguyen/genie-bridge/internal/model/space"
	"github.com/vnguyen/genie-bridge/internal/service/auth"
	"github.com/vnguyen/genie-bridge/internal/service/genie"
	"github.com/vnguyen/genie-bridge/internal/service/render"
	"github.com/vnguyen/genie-bridge/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env before config reads the environment.
	dotenvErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := buildLogger(cfg.Debug)
	defer logger.Sync()

	if dotenvErr != nil {
		logger.Warn("no .env file loaded, using system environment only", zap.Error(dotenvErr))
	}

	spaces, err := space.LoadDirectory(cfg.Genie.SpacesFile)
	if err != nil {
		logger.Fatal("failed to load genie spaces", zap.Error(err))
	}
	logger.Info("genie spaces loaded",
		zap.String("file", cfg.Genie.SpacesFile),
		zap.Int("count", len(spaces.List())))

	sessions := session.NewStore()
	credentials := auth.NewAppCredentials(cfg.Auth.AppID, cfg.Auth.AppPassword, logger)

	var gate auth.Gate
	switch cfg.Auth.Method {
	case config.AuthMethodServicePrincipal:
		gate = auth.NewServicePrincipalGate(cfg.Genie.Host, cfg.Auth.ClientID, cfg.Auth.ClientSecret, logger)
		logger.Info("authenticating with service principal", zap.String("clientId", cfg.Auth.ClientID))
	default:
		gate = auth.NewTokenServiceGate(cfg.Auth.TokenServiceURL, cfg.Auth.ConnectionName, credentials, cfg.Auth.LoginURL, logger)
		logger.Info("authenticating users via OAuth connection", zap.String("connection", cfg.Auth.ConnectionName))
	}

	client := genie.NewClient(cfg.Genie.Host, "", logger)
	newQuerier := func(token string) bot.Querier {
		return genie.NewQuerier(client.ForUser(token), logger)
	}

	b := bot.New(spaces, sessions, gate, newQuerier, render.New(logger), logger)

	connector := handler.NewConnector(credentials, logger)
	router := handler.NewRouter(b, connector, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func buildLogger(debug bool) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	return logger
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("genie bridge listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
