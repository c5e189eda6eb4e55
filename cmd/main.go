/**
 * @description
 * This is the main entry point for the admin-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the PayPal payout client, message brokers, repositories, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/paypalclient: Client for the PayPal Payouts API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/staynest/admin-service/internal/api"
	"github.com/staynest/admin-service/internal/app"
	"github.com/staynest/admin-service/internal/config"
	"github.com/staynest/admin-service/internal/domain"
	"github.com/staynest/admin-service/internal/store"
	"github.com/staynest/admin-service/pkg/paypalclient"
	rmrabbit "github.com/staynest/admin-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if !cfg.SimulatePayouts && (cfg.PayPalClientID == "" || cfg.PayPalClientSecret == "") {
		log.Fatalf("level=fatal component=bootstrap msg=\"paypal credentials must be configured unless SIMULATE_PAYOUTS=true\"")
	}

	log.Printf("level=info component=bootstrap msg=\"starting admin-service\" port=%s simulate_payouts=%v", cfg.ServerPort, cfg.SimulatePayouts)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for ledger mutation events. The service
	// degrades to a no-op publisher if the broker is down at startup.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the PayPal Payouts client.
	paypalClient := paypalclient.NewClient(cfg.PayPalAPIBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret)

	// Redis backs the per-host approval serialization lock. Missing Redis is
	// not fatal; approvals then rely on the store's conditional transition only.
	var approvalLock app.ApprovalLock
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; approval serialization disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; approval serialization disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; approval serialization disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				approvalLock = app.NewRedisApprovalLock(redisClient, cfg.RedisLockPrefix, time.Duration(cfg.ApprovalLockTTLSeconds)*time.Second)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	adminService := app.NewService(repository, paypalClient, producer, approvalLock, app.Config{
		Currency:               cfg.PayoutCurrency,
		SimulateDefault:        cfg.SimulatePayouts,
		DefaultRejectionReason: cfg.DefaultRejectionReason,
		EventExchange:          cfg.LedgerEventExchange,
		MinWithdrawalAmount:    cfg.MinWithdrawalCentavos,
	})

	// Initialize the API handlers and router.
	adminHandlers := api.NewAdminHandlers(adminService)
	router := api.AdminRoutes(adminHandlers, cfg.AdminJWKSURL, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the ledger event consumer feeding the wallet balance reducer.
	// Wildcard bindings so new posting types from the booking side reach the
	// reducer without a deploy; the reducer routes on the event payload. Like
	// the producer above, a down broker degrades with a warning: the wallet
	// summary goes stale until the broker returns, but the HTTP surface stays
	// up.
	ledgerConsumer := adminService.LedgerConsumer()
	ledgerBindingKeys := []string{
		"ledger." + domain.LedgerAdmin + ".*",
		"ledger." + domain.LedgerHost + ".*",
	}

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; ledger events will not be processed\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		if err := rabbitConsumer.Consume(cfg.LedgerEventExchange, cfg.LedgerEventQueue, ledgerBindingKeys, ledgerConsumer.HandleMessage); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"ledger consumer start failed; ledger events will not be processed\" err=%v", err)
		} else {
			log.Printf("level=info component=bootstrap msg=\"ledger consumer started\" queue=%s", cfg.LedgerEventQueue)
		}
	}

	// Prime the derived wallet summary so the first /admin/wallet read is warm.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := adminService.RefreshWalletSummary(warmCtx); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"initial summary refresh failed\" err=%v", err)
	}
	cancelWarm()

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
