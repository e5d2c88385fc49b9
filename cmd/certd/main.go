package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"example.com/certgate/internal/common"
	"example.com/certgate/internal/config"
	"example.com/certgate/internal/fonts"
	"example.com/certgate/internal/publish"
	"example.com/certgate/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 10*time.Minute, "HTTP write timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Server.StorageDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "storage dir: %v\n", err)
		os.Exit(1)
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.Server.StorageDir, "logs")
	}
	if cfg.Output.Ledger == "" {
		cfg.Output.Ledger = filepath.Join(cfg.Server.StorageDir, "issued.jsonl")
	}
	if cfg.Logs.FileName == "" {
		cfg.Logs.FileName = "certd.log"
	}
	logger, err := common.NewLogger(cfg.Logs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}

	ctx := context.Background()
	pub, err := publish.New(ctx, cfg.Publish, logger)
	switch {
	case errors.Is(err, publish.ErrDisabled):
		pub = nil
	case err != nil:
		logger.Fatal("publish init", zap.Error(err))
	}

	resolver := fonts.NewResolver(fonts.HTTPFetcher{}, fonts.DirCache{Dir: cfg.Fonts.CacheDir}, logger)
	srv, err := server.NewServer(server.Options{
		StorageDir: cfg.Server.StorageDir,
		Defaults:   cfg,
		Resolver:   resolver,
		ManifestSigning: server.ManifestSigningOptions{
			PrivateKeyPath:  cfg.Signing.PrivateKey,
			CertificatePath: cfg.Signing.Certificate,
		},
		Publisher:      pub,
		LedgerPath:     cfg.Output.Ledger,
		Workers:        cfg.Workers,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("server init", zap.Error(err))
	}
	defer srv.Close()

	router, err := server.NewRouter(srv)
	if err != nil {
		logger.Fatal("router init", zap.Error(err))
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	logger.Info("certd listening", zap.String("addr", listenAddr), zap.String("storage", cfg.Server.StorageDir))
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("certd stopped")
}
