package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/api"
	"chatbotmaker.dev/chatbot-maker/internal/auth"
	"chatbotmaker.dev/chatbot-maker/internal/config"
	"chatbotmaker.dev/chatbot-maker/internal/core"
	"chatbotmaker.dev/chatbot-maker/internal/llm"
	"chatbotmaker.dev/chatbot-maker/internal/logger"
	"chatbotmaker.dev/chatbot-maker/internal/store"
)

func main() {
	backend := flag.String("backend", "", "Override STORAGE_BACKEND (memory, file, sqlite, mongo, firestore)")
	flag.Parse()
	if *backend != "" {
		os.Setenv("STORAGE_BACKEND", *backend)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup logging
	zlog := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer zlog.Sync()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Storage is opened once; the service does not listen until it answers.
	db, err := store.Open(startCtx, cfg.Storage, zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer db.Close()

	counter, err := core.NewTokenCounter()
	if err != nil {
		zlog.Warn("Tokenizer unavailable, estimating history size from characters", zap.Error(err))
	}

	// Initialize LLM client. Without a key the server still starts and chat
	// requests answer as misconfigured.
	client, err := llm.New(startCtx, cfg.LLM)
	switch {
	case errors.Is(err, llm.ErrNoAPIKey):
		zlog.Warn("No LLM API key configured", zap.String("provider", cfg.LLM.Provider))
		client = nil
	case err != nil:
		zlog.Fatal("Failed to initialize LLM client", zap.Error(err))
	default:
		defer client.Close()
	}

	issuer := auth.NewIssuer(cfg.Auth, db, zlog)

	accounts := core.NewAccountService(db, issuer, cfg.Auth.MinPasswordLength, zlog)
	chatbots := core.NewChatbotService(db, db, zlog)
	messages := core.NewMessageService(db, zlog)
	chat := core.NewChatService(chatbots, messages, client, core.SessionOptions{
		ScopedTemperature:  cfg.Session.ScopedTemperature,
		ScopedMaxTokens:    cfg.Session.ScopedMaxTokens,
		DefaultTemperature: cfg.Session.DefaultTemperature,
		MaxHistoryTurns:    cfg.Session.MaxHistoryTurns,
		MaxHistoryTokens:   cfg.Session.MaxHistoryTokens,
		RepeatReminder:     cfg.Session.RepeatReminder,
		Counter:            counter,
	}, zlog)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(accounts, chatbots, messages, chat, db, zlog)
	router := api.NewRouter(apiHandler, cfg.AllowedOrigins, zlog)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		zlog.Info("Starting server", zap.String("addr", serverAddr), zap.String("backend", cfg.Storage.Backend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
		return
	}
	zlog.Info("Server exiting gracefully")
}
