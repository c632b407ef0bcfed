package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/foodshare/internal/auth"
	"github.com/example/foodshare/internal/config"
	"github.com/example/foodshare/internal/conversation"
	"github.com/example/foodshare/internal/geolocation"
	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/repository"
	"github.com/example/foodshare/internal/listing/service"
	"github.com/example/foodshare/internal/shell"
	"github.com/example/foodshare/pkg/events"
	"github.com/example/foodshare/pkg/observability"
)

func main() {
	mode := flag.String("mode", "worker", "starting mode: hotel or worker")
	verbose := flag.Bool("v", false, "log at the configured LOG_LEVEL instead of warn")
	issue := flag.String("issue-token", "", "print a JWT for the given role (hotel, worker, admin) and exit")
	subject := flag.String("subject", "foodctl", "subject for -issue-token")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime for -issue-token")
	flag.Parse()

	cfg := config.Load()

	if *issue != "" {
		os.Exit(issueToken(cfg.JWTSecret, *subject, *issue, *ttl))
	}

	start, err := shell.ParseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level := "warn"
	if *verbose {
		level = cfg.LogLevel
	}
	logger := observability.SetupLogger("foodctl", level)
	defer logger.Sync() //nolint:errcheck

	if shutdown, err := observability.SetupTracer(ctx, "foodctl", nil); err == nil {
		defer shutdown(context.Background())
	}

	backend, err := repository.Open(ctx, cfg, logger.Named("store"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open listing store: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close(context.Background())

	// The postgres store records events in its outbox for foodservice to relay.
	var publisher domain.EventPublisher
	switch {
	case backend.DB != nil:
	case cfg.NATSURL != "":
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("foodctl"))
		if err != nil {
			logger.Warn("nats connection failed", zap.Error(err))
			break
		}
		defer conn.Drain()
		publisher = events.NewNATSPublisher(conn, cfg.EventsSubject)
	}

	locator, err := geolocation.FromConfig(cfg, logger.Named("geolocation"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid STATIC_LOCATION: %v\n", err)
		os.Exit(1)
	}

	svc := service.New(backend.Store, publisher, domain.SystemClock{}, nil, logger.Named("listing"))
	sh := shell.New(svc, locator, conversation.NewSessions(cfg.HistorySize), start, logger.Named("shell"))
	done := make(chan error, 1)
	go func() { done <- sh.Run(ctx, os.Stdin, os.Stdout) }()
	select {
	case err := <-done:
		if err != nil {
			fmt.Fprintf(os.Stderr, "shell: %v\n", err)
		}
	case <-ctx.Done():
		fmt.Println("\ninterrupted")
	}
}

func issueToken(secret, subject, role string, ttl time.Duration) int {
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		return 1
	}
	switch role {
	case auth.RoleHotel, auth.RoleWorker, auth.RoleAdmin:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", role)
		return 2
	}
	token, err := auth.Issue(secret, subject, role, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
