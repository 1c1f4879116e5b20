package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/api"
	"github.com/otcsettle/controlplane/internal/auth"
	"github.com/otcsettle/controlplane/internal/complianceattestor"
	"github.com/otcsettle/controlplane/internal/config"
	"github.com/otcsettle/controlplane/internal/db"
	"github.com/otcsettle/controlplane/internal/docstore"
	"github.com/otcsettle/controlplane/internal/intentgateway"
	"github.com/otcsettle/controlplane/internal/kvstore"
	"github.com/otcsettle/controlplane/internal/log"
	"github.com/otcsettle/controlplane/internal/orchestrator"
	"github.com/otcsettle/controlplane/internal/policysnapshot"
	"github.com/otcsettle/controlplane/internal/proofcoordinator"
	"github.com/otcsettle/controlplane/internal/vaultsecrets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := log.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := docstore.Connect(ctx, cfg.DocStoreDSN)
	if err != nil {
		logger.Fatal("docstore connect failed", zap.Error(err))
	}
	defer store.Close()

	if err := db.Migrate(ctx, store.Pool, "./migrations"); err != nil {
		logger.Fatal("docstore migrate failed", zap.Error(err))
	}

	if err := ensureAdmin(ctx, store, cfg); err != nil {
		logger.Fatal("admin bootstrap failed", zap.Error(err))
	}

	kv := kvstore.Connect(cfg.KVStoreAddr, cfg.KVStorePassword, cfg.KVStoreDB)
	defer kv.Close()

	policySvc := policysnapshot.New(logger, policysnapshot.NewPgRepository(store), kv, cfg.PolicyInternalAuthEnabled, cfg.PolicyAuditSecret)

	intentSvc, err := intentgateway.New(logger, intentgateway.NewPgRepository(store), kv, intentgateway.Config{
		ReplayTTL:           cfg.ReplayTTL,
		MaxAge:              cfg.IntakeMaxAge,
		MaxFutureSkew:       cfg.IntakeMaxFutureSkew,
		ConfidentialRuntime: cfg.ConfidentialRuntime,
		DecryptionKeyHex:    cfg.IntentDecryptionKeyHex,
	})
	if err != nil {
		logger.Fatal("intent gateway init failed", zap.Error(err))
	}

	complianceSvc, err := complianceattestor.New(logger, complianceattestor.NewPgRepository(store), kv, complianceattestor.Config{
		MaxAge:             cfg.ReplayTTL,
		MaxFutureSkew:      cfg.IntakeMaxFutureSkew,
		AttestationTTL:     cfg.AttestationTTL,
		ReplayTTL:          cfg.ReplayTTL,
		PolicySnapshotPath: cfg.PolicySnapshotPath,
		SanctionsDataPath:  cfg.SanctionsDataPath,
		RequireSignature:   cfg.RequireInternalSignature,
		SigningSecretHex:   cfg.InternalSigningSecret,
		EncryptionKeyHex:   cfg.EncryptionKeyHex,
		FXLookupEnabled:    cfg.FXLookupEnabled,
		FXQuoteBaseURL:     cfg.FXQuoteBaseURL,
		FXBaseCurrency:     cfg.FXBaseCurrency,
		FXQuoteCurrency:    cfg.FXQuoteCurrency,
	})
	if err != nil {
		logger.Fatal("compliance attestor init failed", zap.Error(err))
	}

	proofSvc := proofcoordinator.New(logger, proofcoordinator.NewPgRepository(store), kv, proofcoordinator.Config{
		ReplayTTL:       cfg.ReplayTTL,
		PollInterval:    cfg.WorkerPollInterval,
		Lease:           cfg.WorkerLease,
		MaxRetries:      cfg.WorkerMaxRetries,
		BackoffBase:     cfg.WorkerBackoffBase,
		DomainSeparator: cfg.SignalDomainSeparator,
	})

	orchestratorSvc := orchestrator.New(logger, intentSvc, policySvc, complianceSvc, proofSvc, cfg.SignalDomainSeparator)

	prover := proofcoordinator.NewProver(cfg.ProverRootDir, cfg.ProverCommand, cfg.ProverTimeout)

	// A nil publisher is passed through explicitly rather than via a
	// possibly-nil *Publisher, since a typed-nil *Publisher stored in the
	// Worker's publisherClient interface would not compare equal to nil.
	var worker *proofcoordinator.Worker
	if cfg.EthRPCURL == "" {
		logger.Warn("ETH_RPC_URL not set, on-chain publishing disabled")
		worker = proofcoordinator.NewWorker(proofSvc, prover, nil)
	} else {
		chainID, err := strconv.ParseInt(cfg.EthChainID, 10, 64)
		if err != nil {
			logger.Fatal("invalid ETH_CHAIN_ID", zap.Error(err))
		}
		publisher, err := proofcoordinator.NewPublisher(cfg.EthRPCURL, chainID, cfg.EthPrivateKeyHex, cfg.SettlementRegistry, cfg.PublishTimeout)
		if err != nil {
			logger.Fatal("publisher init failed", zap.Error(err))
		}
		worker = proofcoordinator.NewWorker(proofSvc, prover, publisher)
	}

	if cfg.ArtifactSealingEnabled {
		if cfg.VaultAddr == "" {
			logger.Fatal("ARTIFACT_SEALING_ENABLED requires VAULT_ADDR/VAULT_TOKEN to persist the anchor key")
		}
		vault, err := vaultsecrets.New(cfg.VaultAddr, cfg.VaultToken)
		if err != nil {
			logger.Fatal("vault init failed", zap.Error(err))
		}
		sealer, err := proofcoordinator.NewArtifactSealer(vault, cfg.VaultAnchorKeyPath)
		if err != nil {
			logger.Fatal("artifact sealer init failed", zap.Error(err))
		}
		worker = worker.WithArtifactSealer(sealer)
	}
	go worker.Run(ctx)

	srv := api.New(cfg, logger, store, kv, api.Services{
		PolicySnapshot:     policySvc,
		IntentGateway:      intentSvc,
		ComplianceAttestor: complianceSvc,
		ProofCoordinator:   proofSvc,
		Orchestrator:       orchestratorSvc,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		<-time.After(250 * time.Millisecond)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}
}

func ensureAdmin(ctx context.Context, store *docstore.Store, cfg config.Config) error {
	var exists bool
	if err := store.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`, cfg.AdminEmail).Scan(&exists); err != nil {
		return err
	}
	h := auth.DefaultPasswordHasher()
	hash, err := h.Hash(cfg.AdminPassword)
	if err != nil {
		return err
	}
	if exists {
		if !cfg.AdminBootstrapForce {
			return nil
		}
		_, err := store.Pool.Exec(ctx, `UPDATE users SET password_hash=$2, role='admin' WHERE email=$1`, cfg.AdminEmail, hash)
		return err
	}
	_, err = store.Pool.Exec(ctx, `INSERT INTO users(id, email, password_hash, role) VALUES($1, $2, $3, 'admin')`, uuid.NewString(), cfg.AdminEmail, hash)
	return err
}
