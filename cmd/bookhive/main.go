package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookhive/internal/circulation"
	"bookhive/internal/clients"
	"bookhive/internal/config"
	"bookhive/internal/inventory"
	"bookhive/internal/ledger"
	"bookhive/internal/loginguard"
	"bookhive/internal/member"
	"bookhive/internal/notify"
	"bookhive/internal/reservation"
	"bookhive/internal/scheduler"
	"bookhive/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "bookhive")
	if err != nil {
		log.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Stores.
	invStore := inventory.NewStore(db)
	memberStore := member.NewStore(db)
	resQueue := reservation.NewQueue(db)
	ledgerSvc := ledger.NewService(db)

	// Dispatch.
	transport := clients.NewChatGateway(cfg.ChatGatewayURL)
	dispatcher := notify.NewDispatcher(ledgerSvc, memberStore, transport, log, notify.Options{
		Workers:     cfg.DispatchWorkers,
		Retries:     cfg.DispatchRetries,
		Backoff:     cfg.DispatchBackoff,
		SendTimeout: cfg.TransportTimeout,
		BatchSize:   cfg.BroadcastBatch,
		AdminAddr:   cfg.AdminChatID,
	})
	defer dispatcher.Shutdown()

	verifier := &notify.Verifier{Channels: []notify.VerificationChannel{
		&notify.EmailChannel{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom},
		&notify.ChatChannel{Transport: transport, Addrs: memberStore},
	}}

	// Engine.
	engine := circulation.NewEngine(invStore, resQueue, memberStore, ledgerSvc,
		dispatcher, dispatcher, log, cfg.LoanPeriod, cfg.ExtensionPeriod)

	guard := loginguard.NewGuard(memberStore, dispatcher, log,
		cfg.LockoutThreshold, cfg.LockoutDuration)

	// Scheduler.
	backup := scheduler.NewBackup(db, cfg.BackupDir, cfg.BackupRetention, log)
	sched := scheduler.New(invStore, dispatcher, backup, log, cfg.DueSoonWindow,
		scheduler.Probe{Name: "store", Check: invStore.Ping},
		scheduler.Probe{Name: "dispatcher", Check: func(context.Context) error {
			if !dispatcher.Healthy() {
				return errors.New("worker pool stopped")
			}
			return nil
		}},
	)
	go sched.Start(ctx, scheduler.Intervals{
		Overdue: cfg.OverdueScanInterval,
		DueSoon: cfg.DueSoonScanInterval,
		Health:  cfg.HealthCheckInterval,
		Backup:  cfg.BackupInterval,
	})

	// HTTP surface for the chat-layer collaborator.
	circHandler := circulation.NewHandler(engine)
	ledgerHandler := ledger.NewHandler(ledgerSvc)
	memberHandler := member.NewHandler(memberStore)
	loginHandler := loginguard.NewHandler(guard)
	notifyHandler := notify.NewHandler(dispatcher, verifier, memberStore)
	schedHandler := scheduler.NewHandler(sched)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Route("/circulation", func(r chi.Router) {
		r.Post("/borrow", circHandler.HandleBorrow)
		r.Post("/reserve", circHandler.HandleReserve)
		r.Post("/return", circHandler.HandleReturn)
		r.Post("/extend", circHandler.HandleExtend)
		r.Post("/books", circHandler.HandleAddBook)
		r.Get("/books/{bookID}", circHandler.HandleGetBook)
		r.Put("/books/{bookID}/copies", circHandler.HandleUpdateCopies)
	})
	router.Route("/ledger", func(r chi.Router) {
		r.Post("/rate", ledgerHandler.HandleRate)
		r.Get("/history/{memberID}", ledgerHandler.HandleHistory)
		r.Get("/top", ledgerHandler.HandleTopRated)
		r.Get("/stats", ledgerHandler.HandleStats)
		r.Get("/unread/{memberID}", ledgerHandler.HandleUnread)
		r.Post("/read", ledgerHandler.HandleMarkRead)
	})
	router.Route("/members", func(r chi.Router) {
		r.Post("/register", memberHandler.HandleRegister)
		r.Post("/link-chat", memberHandler.HandleLinkChat)
		r.Post("/status", memberHandler.HandleUpdateStatus)
	})
	router.Post("/auth/login", loginHandler.HandleLogin)
	router.Route("/notify", func(r chi.Router) {
		r.Post("/", notifyHandler.HandleEnqueue)
		r.Post("/broadcast", notifyHandler.HandleBroadcast)
		r.Post("/verify", notifyHandler.HandleVerify)
	})
	router.Route("/scheduler", func(r chi.Router) {
		r.Post("/overdue-scan", schedHandler.HandleOverdueScan)
		r.Post("/due-soon-scan", schedHandler.HandleDueSoonScan)
		r.Post("/backup", schedHandler.HandleBackup)
		r.Get("/health", schedHandler.HandleHealthCheck)
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("bookhive listening", "port", cfg.HTTPPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}
