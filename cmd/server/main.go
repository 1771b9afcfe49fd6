package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/relaychat/internal/logging"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store/sqlite"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relaychat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Error closing store", zap.Error(err))
		}
	}()

	srv := server.New(cfg, st, logger)
	httpServer := srv.HTTPServer()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.StartServer(httpServer)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	if err := srv.Shutdown(httpServer); err != nil {
		logger.Warn("Shutdown finished with errors", zap.Error(err))
	}
	logger.Info("Server exited")
	return nil
}
