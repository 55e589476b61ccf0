/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the payment gateway client, the blockchain RPC client,
 * the message broker, repositories, the application services, the cron
 * scheduler, and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/ethereum/go-ethereum/ethclient: Blockchain RPC client.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/asaas: Client for the Asaas payment API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinculobrasil/settlement-service/internal/api"
	"github.com/vinculobrasil/settlement-service/internal/app"
	"github.com/vinculobrasil/settlement-service/internal/chain"
	"github.com/vinculobrasil/settlement-service/internal/config"
	"github.com/vinculobrasil/settlement-service/internal/nft"
	"github.com/vinculobrasil/settlement-service/internal/store"
	"github.com/vinculobrasil/settlement-service/internal/wallet"
	"github.com/vinculobrasil/settlement-service/internal/waterfall"
	"github.com/vinculobrasil/settlement-service/pkg/asaas"
	"github.com/vinculobrasil/settlement-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting settlement-service", "port", cfg.Port)

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewPostgresRepository(dbpool)

	// Initialize the RabbitMQ producer to publish events. The service keeps
	// running on a no-op fallback when the broker is down; the database is
	// the source of truth and events are best-effort.
	var publisher rabbitmq.Publisher
	if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		defer producer.Close()
		publisher = producer
		logger.Info("rabbitmq producer connected")
	}

	// The master key guards every custodial private key; refuse to boot
	// without it rather than run with wallet operations silently broken.
	cipher, err := wallet.NewCipher(cfg.MasterEncryptionKey)
	if err != nil {
		logger.Error("invalid master encryption key", "error", err)
		os.Exit(1)
	}
	walletManager := wallet.NewManager(repository, cipher)

	var adminOwnerID uuid.UUID
	if strings.TrimSpace(cfg.AdminWalletOwnerID) != "" {
		adminOwnerID, err = uuid.Parse(cfg.AdminWalletOwnerID)
		if err != nil {
			logger.Error("invalid admin wallet owner id", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("admin wallet owner id not configured; minting disabled")
	}

	// Blockchain RPC. Missing or unreachable RPC degrades minting to
	// ErrChainUnavailable instead of preventing boot; billing and
	// termination do not depend on the chain.
	var rpcClient chain.RPC
	if strings.TrimSpace(cfg.ChainRPCURL) == "" {
		logger.Warn("chain rpc url not configured; chain operations disabled")
	} else if client, dialErr := ethclient.Dial(cfg.ChainRPCURL); dialErr != nil {
		logger.Warn("chain rpc dial failed; chain operations disabled", "error", dialErr)
	} else {
		defer client.Close()
		rpcClient = client
		logger.Info("chain rpc connected", "chain_id", cfg.ChainID)
	}
	chainService := chain.NewService(rpcClient, cfg.ChainID, cfg.GasBufferPercent, time.Duration(cfg.TxConfirmTimeoutSecs)*time.Second)

	registry, err := nft.NewRegistry(repository, chainService, walletManager, cfg.NFTContractAddress, adminOwnerID)
	if err != nil {
		logger.Error("failed to initialize nft registry", "error", err)
		os.Exit(1)
	}

	// Provision the admin custodial wallet up front so the first mint does
	// not pay the provisioning latency.
	if adminOwnerID != uuid.Nil {
		if address, err := walletManager.CreateManagedWallet(ctx, adminOwnerID); err != nil {
			logger.Warn("admin wallet provisioning failed", "error", err)
		} else {
			logger.Info("admin wallet ready", "address", address)
		}
	}

	gatewayClient := asaas.NewClient(cfg.AsaasAPIBaseURL, cfg.AsaasAPIKey)

	wfConfig := waterfall.Config{
		AgencyRate:           cfg.AgencyRate,
		GuarantorRate:        cfg.GuarantorRate,
		VinculoRate:          cfg.VinculoRate,
		PrimeScoreThreshold:  cfg.KYCPrimeThreshold,
		PrimeGuaranteeFactor: cfg.PrimeGuaranteeFactor,
	}

	billingService := app.NewBillingService(repository, gatewayClient, publisher, wfConfig, logger)
	terminationService := app.NewTerminationService(repository, publisher, wfConfig, cfg.BaseFineMonths, logger)

	// Start the cron scheduler in the background
	jobs := app.NewJobs(billingService, logger)
	scheduler := app.NewScheduler(jobs, logger, *cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	handlers := api.NewSettlementHandlers(billingService, terminationService, registry, walletManager, chainService, repository, wfConfig, adminOwnerID)
	router := api.SettlementRoutes(handlers, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for in-flight jobs to finish
	logger.Info("shutdown complete")
}
