package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-booking/internal/auth"
	"github.com/iliyamo/event-booking/internal/booking"
	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/database"
	"github.com/iliyamo/event-booking/internal/directory"
	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/logger"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/repository"
	"github.com/iliyamo/event-booking/internal/router"
	"github.com/iliyamo/event-booking/internal/service"
)

func main() {
	cfg := config.Load()
	logger.Configure(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		logger.Fatalf(ctx, "database: %v", err)
	}
	defer db.Close()

	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Fatalf(ctx, "migrate: %v", err)
		}
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}

	ledger := newLedger(ctx, cfg.LedgerBackend, db, rdb)

	events := repository.NewEventRepo(db)
	reservations := repository.NewReservationRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	var opts []booking.Option
	if cfg.BookingEventsEnabled {
		pub := service.NewPublisher(cfg.AMQPURL)
		defer pub.Close()
		opts = append(opts, booking.WithPublisher(pub))
		startActivityConsumer(ctx, cfg)
	}
	mgr := booking.NewManager(ledger, events, reservations, opts...)

	if cfg.ReconcileOnStart {
		rep, err := mgr.Reconcile(ctx)
		if err != nil {
			logger.Fatalf(ctx, "reconcile: %v", err)
		}
		logger.Infof(ctx, "ledger reconciled: %d events, %d reserved", rep.Events, rep.Reserved)
	}
	if cfg.ReconcileInterval > 0 {
		go reconcileLoop(ctx, mgr, cfg.ReconcileInterval)
	}

	gate := auth.NewGate(cfg.JWTSecret)
	dir := directory.New(events, reservations, mgr.Ledger(), gate,
		directory.WithCascadeDelete(cfg.DeletePolicy == config.DeleteCascade),
		directory.WithPageLimits(cfg.DefaultPageLimit, cfg.MaxPageLimit),
	)

	checks := map[string]handler.Check{"database": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	e := router.New(router.Handlers{
		Health:   handler.Health(checks),
		Auth:     handler.NewAuthHandler(cfg, gate, users, tokens),
		Events:   handler.NewEventHandler(dir),
		Bookings: handler.NewBookingHandler(mgr, dir),
		Admin:    handler.NewAdminHandler(users, dir, mgr, cfg.MaxPageLimit),
	}, router.Options{
		Gate:      gate,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Infof(ctx, "listening on %s (env=%s, ledger=%s)", addr, cfg.Env, cfg.LedgerBackend)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf(ctx, "server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(shutdownCtx, "shutdown: %v", err)
	}
}

func newLedger(ctx context.Context, backend string, db *sql.DB, rdb *redis.Client) booking.Ledger {
	switch backend {
	case config.LedgerRedis:
		if rdb == nil {
			logger.Fatalf(ctx, "LEDGER_BACKEND=redis but redis is unreachable")
		}
		return booking.NewRedisLedger(rdb, "ledger")
	case config.LedgerMemory:
		logger.Warnf(ctx, "memory ledger selected; capacity is only enforced within this process")
		return booking.NewMemoryLedger()
	default:
		return booking.NewSQLLedger(db)
	}
}

func reconcileLoop(ctx context.Context, mgr *booking.Manager, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, err := mgr.Reconcile(ctx)
			if err != nil {
				logger.Errorf(ctx, "periodic reconcile: %v", err)
				continue
			}
			if len(rep.Corrupted) > 0 {
				logger.Errorf(ctx, "periodic reconcile: events over capacity: %v", rep.Corrupted)
			}
			if len(rep.Ahead) > 0 {
				logger.Warnf(ctx, "periodic reconcile: ledger ahead of records: %v", rep.Ahead)
			}
		}
	}
}

func startActivityConsumer(ctx context.Context, cfg config.Config) {
	sink, err := queue.OpenActivityLog(cfg.ActivityLogDir)
	if err != nil {
		logger.Warnf(ctx, "activity log disabled: %v", err)
		return
	}
	go func() {
		defer sink.Close()
		queue.StartActivityConsumer(ctx, cfg.AMQPURL, sink)
	}()
}
