// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/chesshall/arbiter/internal/auth"
	"github.com/chesshall/arbiter/internal/cache"
	"github.com/chesshall/arbiter/internal/config"
	"github.com/chesshall/arbiter/internal/database"
	"github.com/chesshall/arbiter/internal/engine"
	"github.com/chesshall/arbiter/internal/handlers"
	"github.com/chesshall/arbiter/internal/matchmaking"
	"github.com/chesshall/arbiter/internal/middleware"
	"github.com/chesshall/arbiter/internal/notify"
	"github.com/chesshall/arbiter/internal/reservation"
	"github.com/chesshall/arbiter/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		if err := auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.TokenExpire); err != nil {
			logger.Fatalf("auth keys: %v", err)
		}
	} else {
		auth.Init(cfg.TokenExpire)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres is optional: without it play is guest-only and unarchived.
	var profiles *database.ProfileStore
	var archive session.Archive
	var ratings session.RatingStore
	if cfg.PostgresDSN != "" {
		pool, err := database.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer pool.Close()
		profiles = database.NewProfileStore(pool)
		archive = database.NewArchiveStore(pool)
		ratings = profiles
		logger.Info("connected to postgres")
	} else {
		logger.Warn("POSTGRES_DSN unset; running without profiles, archive or ratings")
	}

	// Redis backs the outbound notification queue; also optional.
	var notifier *notify.Queue
	if rdb, err := cache.Connect(cfg.RedisAddr, cfg.RedisDB); err == nil {
		notifier = notify.NewQueue(rdb, logger, 0)
		go notifier.Run(ctx)
		defer rdb.Close()
		logger.Infof("notification queue draining to redis at %s", cfg.RedisAddr)
	} else {
		logger.Warnf("redis unavailable, notifications disabled: %v", err)
	}

	var provider engine.MoveProvider
	if cfg.EngineBinary != "" {
		uci, err := engine.NewUCIEngine(cfg.EngineBinary, cfg.EngineTimeout)
		if err != nil {
			logger.Warnf("engine unavailable, bot seats disabled: %v", err)
		} else {
			defer uci.Close()
			provider = uci
		}
	}

	var activeStore reservation.ActiveSessionStore
	if profiles != nil {
		activeStore = profiles
	}
	reservations := reservation.New(activeStore)

	// The notify queue satisfies each layer's Notifier interface; a typed nil
	// must not leak into the interfaces.
	var sessNotify session.Notifier
	var queueNotify matchmaking.Notifier
	var gwNotify handlers.Notifier
	if notifier != nil {
		sessNotify = notifier
		queueNotify = notifier
		gwNotify = notifier
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Session: session.Config{
			GracePeriod:       cfg.DisconnectGrace,
			FirstMoveDeadline: cfg.FirstMoveDeadline,
		},
		TerminalTTL: cfg.TerminalLinger,
	}, provider, archive, ratings, sessNotify, reservations)
	registry.StartClock(ctx)
	registry.StartJanitor(ctx)

	queue := matchmaking.NewQueue(matchmaking.Config{
		SweepInterval: cfg.QueueSweepInterval,
		WidenEvery:    cfg.QueueWidenEvery,
	}, reservations, nil, queueNotify)

	var profileLookup auth.ProfileLookup
	if profiles != nil {
		profileLookup = profiles
	}
	srv := handlers.NewSessionServer(logger, registry, queue, reservations, auth.NewVerifier(profileLookup), gwNotify, cfg.DefaultTimeBudget)
	queue.UseRooms(srv)
	queue.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.SessionWSHandler(srv),
	)))
	mux.Handle("/rooms/create", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.CreateRoomHandler(srv),
	)))
	mux.Handle("/rooms/info", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.RoomInfoHandler(srv),
	)))
	mux.HandleFunc("/healthz", handlers.HealthHandler(srv))

	logger.Infof("arbiter running on %s", cfg.Addr)
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server exited: %v", err)
	}
}
