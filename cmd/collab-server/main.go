package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"collabdocs/config"
	"collabdocs/internal/editor"
	"collabdocs/internal/store"
	"collabdocs/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		port       = flag.String("port", "", "Port to listen on (overrides config)")
		env        = flag.String("env", "", "Environment (dev, staging, prod; overrides config)")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error; overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *env != "" {
		cfg.Env = *env
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := logger.New(cfg.LogLevel)

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Error("open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := editor.NewService(cfg, st, log)
	service.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	mux.HandleFunc("/ws", service.HandleWebSocket)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		cancel()
		service.Shutdown()
		server.Close()
	}()

	log.Info("collab server starting", "port", cfg.Port, "env", cfg.Env, "driver", cfg.Database.Driver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
