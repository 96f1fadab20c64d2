package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"example.com/activityrelay/internal/auth"
	"example.com/activityrelay/internal/config"
	"example.com/activityrelay/internal/persistence"
	"example.com/activityrelay/internal/strava"
)

func main() {
	subscribe := flag.Bool("subscribe", false, "register the webhook push subscription if none exists")
	issueToken := flag.String("issue-admin-token", "", "print an admin bearer token for the given subject")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the issued admin token")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := persistence.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open credential store: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		log.Fatalf("failed to count credentials: %v", err)
	}
	log.Printf("credential schema ready (%d stored)", count)

	if *subscribe {
		if err := ensureSubscription(ctx, cfg); err != nil {
			log.Fatalf("subscription failed: %v", err)
		}
	}

	if subject := strings.TrimSpace(*issueToken); subject != "" {
		token, err := auth.Issue(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, subject, []string{auth.ScopeAdmin}, *tokenTTL)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		_, _ = os.Stdout.WriteString(token + "\n")
	}
}

func ensureSubscription(ctx context.Context, cfg config.Config) error {
	client := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		BaseURL:      cfg.StravaBaseURL,
		AuthURL:      cfg.StravaAuthURL,
		RedirectURL:  cfg.RedirectURL(),
		Timeout:      cfg.HTTPTimeout,
	})

	existing, err := client.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	for _, sub := range existing {
		if sub.CallbackURL == cfg.CallbackURL() {
			log.Printf("subscription %d already registered for %s", sub.ID, sub.CallbackURL)
			return nil
		}
	}
	if len(existing) > 0 {
		log.Printf("application already has subscription %d for %s; Strava allows one per application", existing[0].ID, existing[0].CallbackURL)
		return nil
	}

	sub, err := client.CreateSubscription(ctx, cfg.CallbackURL(), cfg.WebhookVerifyToken)
	if err != nil {
		return err
	}
	log.Printf("subscription %d registered for %s", sub.ID, cfg.CallbackURL())
	return nil
}
