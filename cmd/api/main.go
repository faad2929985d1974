package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/heartlink/backend/internal/access"
	"github.com/heartlink/backend/internal/auth"
	"github.com/heartlink/backend/internal/catalog"
	"github.com/heartlink/backend/internal/config"
	"github.com/heartlink/backend/internal/db"
	"github.com/heartlink/backend/internal/notify"
	"github.com/heartlink/backend/internal/otp"
	"github.com/heartlink/backend/internal/redemption"
	"github.com/heartlink/backend/internal/router"
	"github.com/heartlink/backend/internal/topup"
	"github.com/heartlink/backend/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid)", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := db.RunMigrations(ctx, cfg.DatabaseURL, "up"); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Cannot reach Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	gate := access.NewStaticGate(access.DefaultGrants())

	// Ledger core
	walletRepo := wallet.NewRepository(pool)
	walletSvc := wallet.NewService(walletRepo, gate, cfg.Ledger)
	redeemSvc := redemption.NewService(walletRepo, walletSvc, cfg.Ledger)
	catalogRepo := catalog.NewRepository(pool)

	// Notification jobs: insert funcs are set after the River client exists
	// (breaks the init cycle, same as wiring a job producer before its queue).
	var insertMu sync.Mutex
	var insertTopUpFn topup.EnqueueEmailTxFunc
	var insertOTPFn otp.EnqueueEmailFunc
	enqueueTopUpEmail := func(ctx context.Context, tx pgx.Tx, args notify.TopUpResolvedArgs) error {
		insertMu.Lock()
		fn := insertTopUpFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}
	enqueueOTPEmail := func(ctx context.Context, args notify.OTPEmailArgs) error {
		insertMu.Lock()
		fn := insertOTPFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, args)
	}

	topupRepo := topup.NewRepository(pool)
	topupSvc := topup.NewService(topupRepo, catalogRepo, walletSvc, gate, enqueueTopUpEmail)

	otpStore := otp.NewRedisStore(rdb)
	otpSvc := otp.NewService(otpStore, cfg.OTP, enqueueOTPEmail)

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, walletSvc, otpSvc, cfg.JWTSecret)

	// Workers
	mailer := &notify.LogMailer{Log: logger}
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewOTPEmailWorker(mailer))
	river.AddWorker(workers, notify.NewTopUpEmailWorker(mailer, authRepo))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertTopUpFn = func(ctx context.Context, tx pgx.Tx, args notify.TopUpResolvedArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertOTPFn = func(ctx context.Context, args notify.OTPEmailArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Handlers & routes
	authHandler := auth.NewHandler(authSvc, otpSvc, logger)
	walletHandler := wallet.NewHandler(walletSvc, logger)
	redeemHandler := redemption.NewHandler(redeemSvc, logger)
	topupHandler := topup.NewHandler(topupSvc, catalogRepo, logger)

	apiRouter := router.New(authHandler, walletHandler, redeemHandler, topupHandler, authSvc, gate)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes notification jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
