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

	"github.com/zhouzirui/medrax/backend/internal/config"
	"github.com/zhouzirui/medrax/backend/internal/handler"
	"github.com/zhouzirui/medrax/backend/internal/model/history"
	"github.com/zhouzirui/medrax/backend/internal/service/ai"
	"github.com/zhouzirui/medrax/backend/internal/service/caption"
	"github.com/zhouzirui/medrax/backend/internal/service/diagnosis"
	"github.com/zhouzirui/medrax/backend/internal/service/qa"
	"github.com/zhouzirui/medrax/backend/internal/service/report"
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

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open history store: %v", err)
	}
	defer closeStore()

	chatModel, err := ai.NewChatModel(ctx, cfg.LLM, "")
	if err != nil {
		log.Fatalf("failed to create chat model: %v", err)
	}

	captioner, err := caption.New(ctx, cfg.Caption, cfg.LLM)
	if err != nil {
		log.Fatalf("failed to create caption generator: %v", err)
	}

	synthesizer, err := report.NewSynthesizer(ctx, chatModel, cfg.Report)
	if err != nil {
		log.Fatalf("failed to create report synthesizer: %v", err)
	}

	qaService, err := qa.NewService(ctx, store, chatModel, cfg.QA)
	if err != nil {
		log.Fatalf("failed to create qa service: %v", err)
	}

	diagnosisService := diagnosis.NewService(captioner, synthesizer, store)

	router := handler.NewRouter(diagnosisService, qaService, handler.Options{
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Streaming:     cfg.LLM.StreamResponse,
	})

	startServer(ctx, cfg.Server, router)
}

// openStore 根据配置选择历史存储，Redis 不可达时直接失败。
func openStore(ctx context.Context, cfg config.StoreConfig) (history.Store, func(), error) {
	if cfg.Backend == config.StoreBackendMemory {
		log.Println("[history] using in-memory store, records are lost on restart")
		return history.NewMemoryStore(), func() {}, nil
	}

	client := cfg.NewRedisClient()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	log.Printf("[history] using redis store addr=%s db=%d prefix=%s", cfg.RedisAddr, cfg.RedisDB, cfg.KeyPrefix)
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Printf("[history] failed to close redis client: %v", err)
		}
	}
	return history.NewRedisStore(client, cfg.KeyPrefix), closeFn, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("MedRAX backend listening on %s", addr)
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
