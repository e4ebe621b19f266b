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

	"github.com/litechat/backend/internal/config"
	"github.com/litechat/backend/internal/handler"
	"github.com/litechat/backend/internal/provider"
	"github.com/litechat/backend/internal/service/ai"
	"github.com/litechat/backend/internal/service/chat"
	"github.com/litechat/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	registry, err := provider.NewRegistry(ctx, cfg.Providers)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}
	if len(registry.List()) == 0 {
		log.Println("warning: no completion models configured, submissions will fail until PROVIDERS is set")
	}

	aiService := ai.NewService(os.Getenv("LITECHAT_SYSTEM_PROMPT"))

	chatService, err := chat.NewService(ctx, registry, aiService, store)
	if err != nil {
		log.Fatalf("failed to initialize chat service: %v", err)
	}
	defer chatService.Close()

	if cfg.TitleModel != "" {
		chatService.SetTitler(aiService, cfg.TitleModel)
		log.Printf("conversation titling enabled with model %s", cfg.TitleModel)
	}

	router := handler.NewRouter(chatService, aiService, registry)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("LiteChat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
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
