// Package ioc wires the core's services, repositories, and adapters into a
// golobby container. main resolves only inbound ports and jobs; everything
// else stays behind the builder.
package ioc

import (
	"context"
	"log/slog"
	"os"
	"time"

	container "github.com/golobby/container/v3"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	common "github.com/duskvault/signing-core/pkg/common"

	account_in "github.com/duskvault/signing-core/pkg/cp/account/ports/in"
	account_out "github.com/duskvault/signing-core/pkg/cp/account/ports/out"
	account_services "github.com/duskvault/signing-core/pkg/cp/account/services"
	comms_in "github.com/duskvault/signing-core/pkg/cp/comms/ports/in"
	comms_out "github.com/duskvault/signing-core/pkg/cp/comms/ports/out"
	comms_services "github.com/duskvault/signing-core/pkg/cp/comms/services"
	inheritance_in "github.com/duskvault/signing-core/pkg/cp/inheritance/ports/in"
	inheritance_out "github.com/duskvault/signing-core/pkg/cp/inheritance/ports/out"
	inheritance_services "github.com/duskvault/signing-core/pkg/cp/inheritance/services"
	ledger_in "github.com/duskvault/signing-core/pkg/cp/ledger/ports/in"
	ledger_out "github.com/duskvault/signing-core/pkg/cp/ledger/ports/out"
	ledger_services "github.com/duskvault/signing-core/pkg/cp/ledger/services"
	notify_in "github.com/duskvault/signing-core/pkg/cp/notify/ports/in"
	notify_out "github.com/duskvault/signing-core/pkg/cp/notify/ports/out"
	notify_services "github.com/duskvault/signing-core/pkg/cp/notify/services"
	policy_in "github.com/duskvault/signing-core/pkg/cp/policy/ports/in"
	policy_out "github.com/duskvault/signing-core/pkg/cp/policy/ports/out"
	policy_services "github.com/duskvault/signing-core/pkg/cp/policy/services"
	recovery_in "github.com/duskvault/signing-core/pkg/cp/recovery/ports/in"
	recovery_out "github.com/duskvault/signing-core/pkg/cp/recovery/ports/out"
	recovery_services "github.com/duskvault/signing-core/pkg/cp/recovery/services"
	signing_in "github.com/duskvault/signing-core/pkg/cp/signing/ports/in"
	signing_out "github.com/duskvault/signing-core/pkg/cp/signing/ports/out"
	signing_services "github.com/duskvault/signing-core/pkg/cp/signing/services"

	adapters "github.com/duskvault/signing-core/pkg/infra/adapters"
	infra_crypto "github.com/duskvault/signing-core/pkg/infra/crypto"
	db "github.com/duskvault/signing-core/pkg/infra/db/mongodb"
	kms "github.com/duskvault/signing-core/pkg/infra/kms"

	sm_in "github.com/duskvault/signing-core/pkg/sm/ports/in"
	sm_out "github.com/duskvault/signing-core/pkg/sm/ports/out"
	sm_services "github.com/duskvault/signing-core/pkg/sm/services"
)

// ContainerBuilder assembles the process's dependency graph step by step.
type ContainerBuilder struct {
	Container container.Container
}

// NewContainerBuilder starts an empty container registered with itself.
func NewContainerBuilder() *ContainerBuilder {
	c := container.New()
	b := &ContainerBuilder{c}

	if err := c.Singleton(func() container.Container { return b.Container }); err != nil {
		slog.Error("failed to register container in NewContainerBuilder")
		panic(err)
	}
	return b
}

// Build returns the assembled container.
func (b *ContainerBuilder) Build() container.Container {
	return b.Container
}

// WithEnvFile loads .env in development and registers the process Config.
func (b *ContainerBuilder) WithEnvFile() *ContainerBuilder {
	if os.Getenv("DEV_ENV") == "true" {
		if err := godotenv.Load(); err != nil {
			slog.Error("failed to load .env file")
			panic(err)
		}
	}
	if err := b.Container.Singleton(func() common.Config { return common.LoadConfig() }); err != nil {
		panic(err)
	}
	return b
}

// WithMongoDB connects the client and registers every repository.
func (b *ContainerBuilder) WithMongoDB() *ContainerBuilder {
	err := b.Container.Singleton(func(cfg common.Config) *mongo.Database {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			slog.Error("failed to connect to mongodb", "error", err)
			panic(err)
		}
		return client.Database(cfg.MongoDatabase)
	})
	if err != nil {
		panic(err)
	}

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(b.Container.Singleton(func(mdb *mongo.Database) account_out.AccountRepository { return db.NewAccountRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) account_out.WatchlistRepository { return db.NewWatchlistRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) ledger_out.LedgerRepository { return db.NewLedgerRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) recovery_out.RecoveryRepository { return db.NewRecoveryRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) inheritance_out.RelationshipRepository { return db.NewRelationshipRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) inheritance_out.ClaimRepository { return db.NewClaimRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) notify_out.EventRepository { return db.NewEventRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) comms_out.CodeRepository { return db.NewCommsCodeRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) signing_out.VerificationRepository { return db.NewVerificationRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) sm_services.KeysetRepository { return db.NewKeysetRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) sm_services.DEKRepository { return db.NewDEKRepository(mdb) }))
	must(b.Container.Singleton(func(mdb *mongo.Database) sm_services.IntegrityRepository { return db.NewIntegrityRepository(mdb) }))
	return b
}

// WithSigningModule registers the SM-side services: KMS client, DEK lease
// manager, integrity key manager, keystore, and grant signer.
func (b *ContainerBuilder) WithSigningModule() *ContainerBuilder {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(b.Container.Singleton(func() sm_out.KMSClient {
		local, err := kms.NewLocalKMS()
		if err != nil {
			panic(err)
		}
		return local
	}))
	must(b.Container.Singleton(func(repo sm_services.DEKRepository, kmsClient sm_out.KMSClient) *sm_services.DEKLeaseManager {
		return sm_services.NewDEKLeaseManager(repo, kmsClient)
	}))
	must(b.Container.Singleton(func(repo sm_services.IntegrityRepository, leases *sm_services.DEKLeaseManager) *sm_services.IntegrityKeyManager {
		return sm_services.NewIntegrityKeyManager(repo, leases, infra_crypto.NewAEADSealer())
	}))
	must(b.Container.Singleton(func(keysets sm_services.KeysetRepository, leases *sm_services.DEKLeaseManager, integrity *sm_services.IntegrityKeyManager) sm_in.KeyStoreService {
		return sm_services.NewKeyStore(keysets, leases, integrity)
	}))
	must(b.Container.Singleton(func(integrity *sm_services.IntegrityKeyManager) sm_in.GrantService {
		verifier := infra_crypto.NewEd25519Verifier()
		return sm_services.NewGrantSigner(integrity, verifier, verifier)
	}))
	return b
}

// WithInboundPorts registers the control-plane services behind their
// inbound ports.
func (b *ContainerBuilder) WithInboundPorts() *ContainerBuilder {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(b.Container.Singleton(func(cfg common.Config) policy_out.SanctionsScreener {
		return adapters.NewStaticSanctionsScreener(cfg.SanctionedAddresses, nil)
	}))
	must(b.Container.Singleton(func(cfg common.Config) policy_out.RateProvider {
		return adapters.NewFixedRateProvider(map[string]float64{"USD": cfg.SatsPerUSD})
	}))
	must(b.Container.Singleton(func() notify_out.Sender { return adapters.LogSender{} }))
	must(b.Container.Singleton(func() comms_out.CodeDeliverer { return adapters.LogCodeDeliverer{} }))
	must(b.Container.Singleton(func() recovery_out.IdentityProvider { return adapters.NoopIdentityProvider{} }))
	must(b.Container.Singleton(func() inheritance_out.WalletInspector { return adapters.EmptyWalletInspector{} }))
	must(b.Container.Singleton(func() signing_out.Broadcaster { return adapters.LogBroadcaster{} }))

	must(b.Container.Singleton(func(repo ledger_out.LedgerRepository) ledger_in.Ledger {
		return ledger_services.NewLedger(repo)
	}))
	must(b.Container.Singleton(func(sanctions policy_out.SanctionsScreener, rates policy_out.RateProvider, ledger ledger_in.Ledger) policy_in.PolicyEngine {
		return policy_services.NewPolicyEngine(sanctions, rates, ledger)
	}))
	must(b.Container.Singleton(func(events notify_out.EventRepository) notify_in.Scheduler {
		return notify_services.NewScheduler(events)
	}))
	must(b.Container.Singleton(func(events notify_out.EventRepository, sender notify_out.Sender, cfg common.Config) *notify_services.Dispatcher {
		return notify_services.NewDispatcher(events, sender, cfg.DispatchInterval)
	}))
	must(b.Container.Singleton(func(codes comms_out.CodeRepository, deliverer comms_out.CodeDeliverer, accounts account_out.AccountRepository) comms_in.CommsVerifier {
		return comms_services.NewCommsService(codes, deliverer, accounts)
	}))
	must(b.Container.Singleton(func(accounts account_out.AccountRepository, watchlist account_out.WatchlistRepository, keystore sm_in.KeyStoreService) account_in.AccountService {
		return account_services.NewAccountService(accounts, watchlist, keystore)
	}))

	must(b.Container.Singleton(func(
		accounts account_out.AccountRepository,
		policy policy_in.PolicyEngine,
		ledger ledger_in.Ledger,
		keystore sm_in.KeyStoreService,
		verifications signing_out.VerificationRepository,
		integrity *sm_services.IntegrityKeyManager,
	) *signing_services.SigningOrchestrator {
		wsmPub, err := integrity.PublicKey(context.Background())
		if err != nil {
			slog.Error("failed to load wsm integrity public key", "error", err)
			panic(err)
		}
		return signing_services.NewSigningOrchestrator(accounts, policy, ledger, keystore, verifications, infra_crypto.NewEd25519Verifier(), wsmPub)
	}))
	must(b.Container.Singleton(func(o *signing_services.SigningOrchestrator) signing_in.SigningService { return o }))
	must(b.Container.Singleton(func(o *signing_services.SigningOrchestrator) signing_in.SweepService { return o }))

	must(b.Container.Singleton(func(
		recoveries recovery_out.RecoveryRepository,
		accounts account_out.AccountRepository,
		identity recovery_out.IdentityProvider,
		scheduler notify_in.Scheduler,
		comms comms_in.CommsVerifier,
	) recovery_in.RecoveryService {
		return recovery_services.NewRecoveryService(recoveries, accounts, identity, scheduler, comms, infra_crypto.NewECDSAVerifier())
	}))

	must(b.Container.Singleton(func(
		relationships inheritance_out.RelationshipRepository,
		claims inheritance_out.ClaimRepository,
		accounts account_out.AccountRepository,
		inspector inheritance_out.WalletInspector,
		scheduler notify_in.Scheduler,
		sweeper signing_in.SweepService,
		broadcaster signing_out.Broadcaster,
	) inheritance_in.InheritanceService {
		return inheritance_services.NewInheritanceService(relationships, claims, accounts, inspector, scheduler, sweeper, broadcaster, infra_crypto.NewECDSAVerifier())
	}))
	return b
}

// Close tears down process-wide resources held by the container.
func (b *ContainerBuilder) Close(c container.Container) {
	var mdb *mongo.Database
	if err := c.Resolve(&mdb); err == nil && mdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mdb.Client().Disconnect(ctx); err != nil {
			slog.Error("failed to disconnect mongodb", "error", err)
		}
	}
}
