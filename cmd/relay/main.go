package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/activityrelay/internal/api"
	"example.com/activityrelay/internal/auth"
	"example.com/activityrelay/internal/config"
	"example.com/activityrelay/internal/domain"
	"example.com/activityrelay/internal/events"
	"example.com/activityrelay/internal/ledger"
	"example.com/activityrelay/internal/persistence"
	"example.com/activityrelay/internal/strava"
	"example.com/activityrelay/internal/telegram"
	httptransport "example.com/activityrelay/internal/transport/http"
)

type publisher interface {
	domain.EventPublisher
	io.Closer
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open credential store: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	states := auth.NewStateCodec(cfg.StateSecret, cfg.StateTTL)
	if !states.Signed() {
		log.Printf("STATE_SECRET not set; authorization state carries the notify target unsigned")
	}

	stravaCfg := strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		BaseURL:      cfg.StravaBaseURL,
		AuthURL:      cfg.StravaAuthURL,
		RedirectURL:  cfg.RedirectURL(),
		Timeout:      cfg.HTTPTimeout,
	}
	stravaClient := strava.NewClient(stravaCfg, strava.WithStateEncoder(states))
	// Prompt links sit in a chat until the owner notices them, so their state outlives STATE_TTL.
	promptLinks := strava.NewClient(stravaCfg, strava.WithStateEncoder(states.WithTTL(cfg.ReauthStateTTL)))
	notifier := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.HTTPTimeout)

	var deliveries domain.DeliveryLedger = ledger.NewMemoryLedger()
	if cfg.RedisURL != "" {
		redisLedger, err := ledger.OpenRedisLedger(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisLedger.Close()
		deliveries = redisLedger
	}

	var stream publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaStream := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.NotificationsTopic)
		log.Printf("publishing relay events to %s", kafkaStream.Topic())
		stream = kafkaStream
	}
	defer stream.Close()

	refresher := domain.NewTokenRefresher(store, stravaClient)
	processor := domain.NewProcessor(store, refresher, stravaClient, notifier,
		domain.WithLedger(deliveries, cfg.DedupeTTL),
		domain.WithPublisher(stream),
		domain.WithReauthPrompt(promptLinks),
	)
	pool := domain.NewPool(processor, cfg.WorkerCount, cfg.QueueSize, cfg.EventTimeout)
	pool.Start(ctx)

	authorizer := domain.NewAuthorizer(stravaClient, store, notifier, domain.WithAuthorizerPublisher(stream))

	handler := api.NewHandler(api.Dependencies{
		Authorizer:    authorizer,
		States:        states,
		Events:        pool,
		Credentials:   store,
		AuthURLs:      stravaClient,
		Subscriptions: stravaClient,
		Health:        store,
		VerifyToken:   cfg.WebhookVerifyToken,
		CallbackURL:   cfg.CallbackURL(),
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
		go func() {
			log.Printf("metrics listening on %s", cfg.MetricsAddress)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server error: %v", err)
			}
		}()
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	requestLogger := log.New(log.Writer(), "[http] ", log.LstdFlags)
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.PublicPaths, auth.ScopeAdmin)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.EventTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(httptransport.RequestLogger(requestLogger, mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("activity relay listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	// Stop accepting work, then let queued events finish.
	cancel()
	pool.Wait()
}
