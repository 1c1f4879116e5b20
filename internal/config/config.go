// Package config loads the control plane's configuration from the process
// environment using struct tags, the same pattern the reference backend
// uses for its own Config (github.com/caarlos0/env/v11).
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates every environment variable named in §6. Individual
// services only read the fields relevant to them; main wires the whole
// struct once at startup.
type Config struct {
	Env        string `env:"ENV" envDefault:"dev"`
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:""`

	// Persistence
	DocStoreDSN     string `env:"DOCSTORE_DSN,required"`
	KVStoreAddr     string `env:"KVSTORE_ADDR" envDefault:"localhost:6379"`
	KVStorePassword string `env:"KVSTORE_PASSWORD" envDefault:""`
	KVStoreDB       int    `env:"KVSTORE_DB" envDefault:"0"`

	// Replay / idempotency window
	ReplayTTL time.Duration `env:"REPLAY_TTL" envDefault:"5m"`

	// IntentGateway
	IntakeMaxAge        time.Duration `env:"INTAKE_MAX_AGE" envDefault:"5m"`
	IntakeMaxFutureSkew time.Duration `env:"INTAKE_MAX_FUTURE_SKEW" envDefault:"30s"`
	ConfidentialRuntime bool          `env:"CONFIDENTIAL_RUNTIME" envDefault:"false"`
	// IntentDecryptionKeyHex holds a hex-encoded AES-256 key. The key is read
	// only from this variable; VaultIntentKeyPath is not consulted for it.
	IntentDecryptionKeyHex string `env:"INTENT_DECRYPTION_KEY_HEX" envDefault:""`

	// ComplianceAttestor
	AttestationTTL            time.Duration `env:"ATTESTATION_TTL" envDefault:"24h"`
	PolicySnapshotPath        string        `env:"POLICY_SNAPSHOT_PATH" envDefault:"./policy_snapshot.json"`
	SanctionsDataPath         string        `env:"SANCTIONS_DATA_PATH" envDefault:"./sanctions.json"`
	RequireInternalSignature  bool          `env:"REQUIRE_INTERNAL_SIGNATURE" envDefault:"false"`
	InternalSigningSecret     string        `env:"INTERNAL_SIGNING_SECRET" envDefault:""`
	// EncryptionKeyHex is the fixed-nonce provider-reference envelope key
	// (§4.3 step 11). Its safety depends on being rotated whenever
	// EncryptionKeyGeneration changes — see SPEC_FULL.md §9, Open Question 2.
	EncryptionKeyHex        string `env:"ENCRYPTION_KEY_HEX" envDefault:""`
	EncryptionKeyGeneration string `env:"ENCRYPTION_KEY_GENERATION" envDefault:""`
	// FXLookupEnabled gates the best-effort FX quote enrichment described in
	// SPEC_FULL.md §4.3 Expansion; never affects decision/risk_score/hash.
	FXLookupEnabled bool   `env:"FX_LOOKUP_ENABLED" envDefault:"false"`
	FXQuoteBaseURL  string `env:"FX_QUOTE_BASE_URL" envDefault:"https://api.frankfurter.app"`
	FXBaseCurrency  string `env:"FX_BASE_CURRENCY" envDefault:"USD"`
	FXQuoteCurrency string `env:"FX_QUOTE_CURRENCY" envDefault:"EUR"`

	// PolicySnapshot internal auth
	PolicyInternalAuthEnabled bool   `env:"POLICY_INTERNAL_AUTH_ENABLED" envDefault:"false"`
	PolicyAuditSecret         string `env:"POLICY_AUDIT_SECRET" envDefault:""`

	// ProofCoordinator / worker
	WorkerPollInterval      time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	WorkerLease             time.Duration `env:"WORKER_LEASE" envDefault:"60s"`
	WorkerMaxRetries        int           `env:"WORKER_MAX_RETRIES" envDefault:"5"`
	WorkerBackoffBase       time.Duration `env:"WORKER_BACKOFF_BASE" envDefault:"2s"`
	ProverTimeout           time.Duration `env:"PROVER_TIMEOUT" envDefault:"30s"`
	ProverRootDir           string        `env:"PROVER_ROOT_DIR" envDefault:"./prover"`
	ProverCommand           string        `env:"PROVER_COMMAND" envDefault:"./prover/bin/prove"`
	PublishTimeout          time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"30s"`
	SignalDomainSeparator   string        `env:"SIGNAL_DOMAIN_SEPARATOR" envDefault:"otc-settlement-v1"`

	// On-chain publisher
	EthRPCURL          string `env:"ETH_RPC_URL" envDefault:""`
	EthChainID         string `env:"ETH_CHAIN_ID" envDefault:""`
	EthPrivateKeyHex   string `env:"ETH_PRIVATE_KEY_HEX" envDefault:""`
	SettlementRegistry string `env:"SETTLEMENT_REGISTRY" envDefault:""`
	PublisherAddress   string `env:"PUBLISHER_ADDRESS" envDefault:""`

	// Confidential artifact sealing (defense-in-depth, SPEC_FULL.md §4.4
	// Expansion). When true, VaultAddr/VaultToken must also be set: the
	// Kyber768 anchor keypair at VaultAnchorKeyPath is persisted there.
	ArtifactSealingEnabled bool `env:"ARTIFACT_SEALING_ENABLED" envDefault:"false"`

	// Secret store (Vault, optional)
	VaultAddr          string `env:"VAULT_ADDR" envDefault:""`
	VaultToken         string `env:"VAULT_TOKEN" envDefault:""`
	VaultIntentKeyPath string `env:"VAULT_INTENT_KEY_PATH" envDefault:"otcsettle/intent-decryption-key"`
	VaultAnchorKeyPath string `env:"VAULT_ANCHOR_KEY_PATH" envDefault:"otcsettle/artifact-anchor"`

	// Sibling base URLs (§6). Loaded but not read: OtcOrchestrator calls its
	// sibling services in-process, not over HTTP.
	IntentGatewayBaseURL      string `env:"INTENT_GATEWAY_BASE_URL" envDefault:""`
	ComplianceAttestorBaseURL string `env:"COMPLIANCE_ATTESTOR_BASE_URL" envDefault:""`
	PolicySnapshotBaseURL     string `env:"POLICY_SNAPSHOT_BASE_URL" envDefault:""`
	ProofCoordinatorBaseURL   string `env:"PROOF_COORDINATOR_BASE_URL" envDefault:""`

	// Operator wallet-login handshake (§6, recorded for completeness)
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"otcsettle-controlplane"`
	JWTSecret     string        `env:"JWT_SECRET,required"`
	JWTAccessTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"720h"`

	AdminEmail          string `env:"ADMIN_EMAIL" envDefault:"admin@otcsettle.local"`
	AdminPassword       string `env:"ADMIN_PASSWORD,required"`
	AdminBootstrapForce bool   `env:"ADMIN_BOOTSTRAP_FORCE" envDefault:"false"`
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
