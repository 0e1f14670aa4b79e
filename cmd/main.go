/**
 * @description
 * This is the main entry point for the vault relay service. It is responsible
 * for initializing all components of the service, including configuration,
 * the chain and explorer clients, the ledger store, the execution backend,
 * the push registry, the core application service, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/relay, internal/store, internal/stream: Internal packages for the service.
 * - pkg/chainclient, pkg/explorerclient, pkg/rabbitmq: Clients for the chain RPC, the block explorer, and RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/w3hc/vault-relay/internal/api"
	"github.com/w3hc/vault-relay/internal/app"
	"github.com/w3hc/vault-relay/internal/config"
	"github.com/w3hc/vault-relay/internal/relay"
	"github.com/w3hc/vault-relay/internal/store"
	"github.com/w3hc/vault-relay/internal/stream"
	"github.com/w3hc/vault-relay/pkg/chainclient"
	"github.com/w3hc/vault-relay/pkg/explorerclient"
	rmrabbit "github.com/w3hc/vault-relay/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.RPCURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"chain rpc url must be configured\" env=RPC_URL")
	}
	if strings.TrimSpace(cfg.RelayerPrivateKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"relayer key must be configured\" env=RELAYER_PRIVATE_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting vault-relay\" port=%s chain_id=%d", cfg.ServerPort, cfg.ChainID)

	// Connect to the chain RPC endpoint.
	dialCtx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	chainClient, err := chainclient.Dial(dialCtx, cfg.RPCURL)
	cancelDial()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"chain rpc connection failed\" err=%v", err)
	}
	defer chainClient.Close()
	log.Println("level=info component=bootstrap msg=\"chain rpc connected\"")

	// Initialize the block explorer client for history reconciliation.
	explorerClient := explorerclient.NewClient(cfg.ExplorerAPIBaseURL, cfg.ExplorerAPIKey)

	// Select the ledger store: Postgres when configured, in-memory otherwise.
	var repository store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		dbpool, poolErr := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if poolErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", poolErr)
		}
		defer dbpool.Close()

		pg := store.NewPostgresRepository(dbpool)
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
		err = pg.EnsureSchema(schemaCtx)
		cancelSchema()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"ledger schema init failed\" err=%v", err)
		}
		repository = pg
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	} else {
		repository = store.NewMemoryRepository()
		log.Println("level=warn component=bootstrap msg=\"no database configured; ledger is in-memory and lost on restart\" env=DATABASE_URL")
	}

	// Initialize the RabbitMQ producer to mirror status events. The mirror is
	// optional; the push channel works without it.
	var mirror app.StatusMirror
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitProducer, rmqErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if rmqErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; status mirror disabled\" err=%v", rmqErr)
		} else {
			defer rabbitProducer.Close()
			mirror = rabbitProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Optional Redis-backed rate limiting of relay submissions.
	var limiter *app.RedisRelayRateLimiter
	if cfg.RelayRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRelayRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the execution backend and the state-machine executor.
	backend, err := relay.NewGethBackend(chainClient, cfg.RelayerPrivateKey, cfg.ChainID)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"execution backend init failed\" err=%v", err)
	}
	executor := relay.NewExecutor(backend, time.Duration(cfg.ReceiptWaitSeconds)*time.Second)

	// The push registry and the core orchestrator.
	registry := stream.NewRegistry()
	service := app.NewService(chainClient, executor, repository, registry, mirror)
	reconciler := app.NewReconciler(explorerClient, repository)

	// Schedule the background reconciliation sweep.
	sweeper := app.NewSweeper(service, reconciler)
	if err := sweeper.Start(cfg.SweepCronSpec); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"sweep schedule invalid\" spec=%q err=%v", cfg.SweepCronSpec, err)
	}

	// Session key policy defaults applied to incoming requests.
	spendingLimit, ok := new(big.Int).SetString(strings.TrimSpace(cfg.SessionSpendingLimit), 10)
	if !ok {
		log.Fatalf("level=fatal component=bootstrap msg=\"session spending limit must be a base-10 integer\" value=%q", cfg.SessionSpendingLimit)
	}
	defaults := api.SessionDefaults{
		SpendingLimit: spendingLimit,
		TTL:           time.Duration(cfg.SessionDefaultTTLMinutes) * time.Minute,
		TokenAddress:  cfg.TokenAddress,
		ChainID:       cfg.ChainID,
	}

	// Initialize the API handlers.
	relayHandlers := api.NewRelayHandlers(service, reconciler, limiter, cfg.RelayRateLimitPerMinute, defaults)
	statusHandler := api.NewStatusStreamHandler(registry)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.RelayRoutes(relayHandlers, statusHandler, cfg.InternalAPIKey, cfg.AllowedOrigins))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

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
	sweeper.Stop()
	registry.Shutdown()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
