package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/Krishnamurari7/urban-services-platform/internal/booking"
	"github.com/Krishnamurari7/urban-services-platform/internal/config"
	"github.com/Krishnamurari7/urban-services-platform/internal/database"
	"github.com/Krishnamurari7/urban-services-platform/internal/feed"
	"github.com/Krishnamurari7/urban-services-platform/internal/handler"
	"github.com/Krishnamurari7/urban-services-platform/internal/middleware"
	"github.com/Krishnamurari7/urban-services-platform/internal/obs"
	"github.com/Krishnamurari7/urban-services-platform/internal/payment"
	"github.com/Krishnamurari7/urban-services-platform/internal/queue"
	"github.com/Krishnamurari7/urban-services-platform/internal/repository"
	"github.com/Krishnamurari7/urban-services-platform/internal/router"
	"github.com/Krishnamurari7/urban-services-platform/internal/subscription"
)

// store is what the server needs from a booking store: the state machine's
// view, the event log and the catalog used for user catch-up.
type store interface {
	booking.Store
	feed.Log
}

type mysqlStore struct {
	*repository.BookingRepo
	*repository.EventRepo
}

func main() {
	cfg := config.Load()
	logger := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st     store
		health = handler.Health{}
	)
	switch cfg.StoreDriver {
	case "memory":
		st = repository.NewMemoryStore()
	case "mysql":
		db, err := database.Open(cfg.DB)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		if cfg.DB.Migrate {
			if err := database.Migrate(ctx, db); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		st = mysqlStore{repository.NewBookingRepo(db), repository.NewEventRepo(db)}
		health.DB = db
	default:
		log.Fatalf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	// Redis is optional; without it the limiter passes everything through.
	var rdb *redis.Client
	if cfg.RateLimit.Enabled || cfg.Feed.Broadcast == "redis" {
		rdb = config.NewRedisClient(cfg.Redis)
		if rdb == nil {
			logger.Warn("redis unreachable, rate limiting disabled", "addr", cfg.Redis.Addr)
		} else {
			defer rdb.Close()
		}
	}

	instance := cfg.Feed.InstanceID
	if instance == "" {
		instance = uuid.NewString()
	}
	var bc feed.Broadcaster
	switch cfg.Feed.Broadcast {
	case "none", "":
	case "amqp":
		fb := queue.NewFanoutBroadcaster(config.BrokerURL(), cfg.Feed.Exchange, logger)
		defer fb.Close()
		bc = fb
	case "redis":
		if rdb == nil {
			log.Fatalf("FEED_BROADCAST=redis but redis is unreachable at %s", cfg.Redis.Addr)
		}
		bc = feed.NewRedisBroadcaster(rdb, cfg.Feed.Exchange, logger)
	default:
		log.Fatalf("unknown FEED_BROADCAST %q", cfg.Feed.Broadcast)
	}

	fd := feed.New(st, bc, instance, logger)
	machine := booking.NewMachine(st, fd, logger)
	subs := subscription.NewRouter(fd, st, logger)
	fd.Attach(subs)
	health.Subs = subs

	verifier, err := payment.NewVerifier(payment.Scheme(cfg.Payment.SigningScheme),
		payment.Encoding(cfg.Payment.SignatureEncoding), []byte(cfg.Payment.SigningSecret))
	if err != nil {
		log.Fatalf("payment verifier: %v", err)
	}

	// Alerts go to the broker when one is in use, otherwise to the log.
	var alerts payment.Alerter
	if cfg.Feed.Broadcast == "amqp" || cfg.Ops.ConsumerEnabled {
		pub := queue.NewAlertPublisher(config.BrokerURL(), cfg.Ops.Queue)
		defer pub.Close()
		alerts = pub
	}
	reconciler := payment.NewReconciler(machine, verifier, alerts, logger)

	if cfg.Ops.ConsumerEnabled {
		consumer := &queue.AlertConsumer{
			URL:     config.BrokerURL(),
			Queue:   cfg.Ops.Queue,
			LogPath: cfg.Ops.LogPath,
			Log:     logger,
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("alert consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := fd.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("feed relay stopped", "error", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	limiter := middleware.NewTokenBucket(cfg.RateLimit, rdb, logger)

	payments := handler.NewPaymentHandler(reconciler, logger)
	router.RegisterRoutes(e, health)
	router.RegisterBookings(e,
		handler.NewBookingHandler(machine, fd, logger),
		payments,
		&handler.StreamHandler{
			Machine:   machine,
			Router:    subs,
			Buffer:    cfg.Stream.Buffer,
			Heartbeat: cfg.Stream.Heartbeat,
			Log:       logger,
		},
		cfg.JWTSecret, limiter)
	router.RegisterPayments(e, payments, limiter)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, store=%s, feed=%s, instance=%s)",
		addr, cfg.Env, cfg.StoreDriver, cfg.Feed.Broadcast, instance)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
