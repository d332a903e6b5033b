// main wires the onboarding service: configuration, stores, the fleet
// bridge, the provider clients, the deferred queue and the HTTP surface.
// Business logic lives in the internal service packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"onboarder/internal/collab"
	"onboarder/internal/directory"
	"onboarder/internal/fleet"
	"onboarder/internal/idp"
	"onboarder/internal/notify"
	"onboarder/internal/onboarding/handler"
	"onboarder/internal/onboarding/metrics"
	"onboarder/internal/onboarding/service"
	"onboarder/internal/onboarding/store"
	"onboarder/internal/placement"
	"onboarder/internal/platform/config"
	"onboarder/internal/platform/httpserver"
	"onboarder/internal/platform/logger"
	"onboarder/internal/platform/postgres"
	platformredis "onboarder/internal/platform/redis"
	"onboarder/internal/queue"
	"onboarder/internal/remoteexec"
	"onboarder/internal/secrets"
	"onboarder/internal/ticket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger config may itself be broken; use a default logger.
		logger.New("info").Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var secretStore secrets.Store = secrets.NewEnvStore()
	if cfg.Redis.URL != "" {
		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		secretStore = secrets.NewCachedStore(secretStore, redisClient, cfg.Redis.SecretTTL, log)
	}

	var runStore store.Store = store.NewMemoryStore()
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		runStore, err = store.NewPostgresStore(pool)
		if err != nil {
			log.Error("could not build run store", "error", err)
			os.Exit(1)
		}
	}

	bridge, err := fleet.NewClient(cfg.RemoteExec.BridgeURL, cfg.RemoteExec, log)
	if err != nil {
		log.Error("could not build fleet client", "error", err)
		os.Exit(1)
	}
	runner, err := remoteexec.NewRunner(bridge, log)
	if err != nil {
		log.Error("could not build command runner", "error", err)
		os.Exit(1)
	}
	hosts, err := placement.NewHostResolver(bridge, log)
	if err != nil {
		log.Error("could not build host resolver", "error", err)
		os.Exit(1)
	}
	mapping, err := placement.NewSecretSource(secretStore, cfg.Secrets.PlacementMapping)
	if err != nil {
		log.Error("could not build placement source", "error", err)
		os.Exit(1)
	}

	dirService, err := directory.NewService(runner, secretStore, cfg.Secrets.DirectoryCredentials, cfg.Onboarding.EmailFormat, log)
	if err != nil {
		log.Error("could not build directory service", "error", err)
		os.Exit(1)
	}
	idpClient, err := idp.NewClient(secretStore, cfg.Secrets.IdentityCredentials, log)
	if err != nil {
		log.Error("could not build identity client", "error", err)
		os.Exit(1)
	}
	ticketClient, err := ticket.NewClient(secretStore, cfg.Secrets.TicketingCredentials, cfg.Onboarding.TicketingBaseURL, log)
	if err != nil {
		log.Error("could not build ticket client", "error", err)
		os.Exit(1)
	}
	notifier, err := notify.NewLogNotifier(log, cfg.Notify.Destination)
	if err != nil {
		log.Error("could not build notifier", "error", err)
		os.Exit(1)
	}

	opts := []service.Option{service.WithMetrics(m)}
	if cfg.Onboarding.CollabEnabled {
		collabClient, err := collab.NewClient(secretStore, cfg.Secrets.TicketingCredentials, cfg.Onboarding.TicketingBaseURL, log)
		if err != nil {
			log.Error("could not build collaboration client", "error", err)
			os.Exit(1)
		}
		opts = append(opts, service.WithCollab(collabClient))
	}

	var consumer queue.Consumer
	if cfg.Queue.Topic != "" {
		kafka, err := queue.NewKafka(ctx, cfg.Queue, log)
		if err != nil {
			log.Error("queue unavailable", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		opts = append(opts, service.WithPublisher(kafka))
		consumer = kafka
	} else {
		memory := queue.NewMemory()
		opts = append(opts, service.WithPublisher(memory))
		consumer = memory
		log.Warn("no queue topic configured, deferring phase two in process")
	}

	svc, err := service.NewService(dirService, hosts, mapping, idpClient, ticketClient, notifier, runStore, cfg.Onboarding, log, opts...)
	if err != nil {
		log.Error("could not build onboarding service", "error", err)
		os.Exit(1)
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Consume(ctx, svc.HandleDeferred); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("queue consumer stopped", "error", err)
		}
	}()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	handler.New(svc, runStore, cfg.Webhook.JWTSecret, log).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)
	go func() {
		log.Info("onboarder listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	<-consumerDone
}
