// Package adapters carries the default implementations of the core's
// outbound ports whose real backends are out of scope: sanctions
// screening, fiat rates, notification delivery, identity provider, chain
// inspection, and broadcast. Each is a small, swappable adapter; a
// deployment replaces them with clients for the real services without the
// domain packages changing.
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	comms_out "github.com/duskvault/signing-core/pkg/cp/comms/ports/out"
	inheritance_entities "github.com/duskvault/signing-core/pkg/cp/inheritance/entities"
	inheritance_out "github.com/duskvault/signing-core/pkg/cp/inheritance/ports/out"
	notify_entities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
	notify_out "github.com/duskvault/signing-core/pkg/cp/notify/ports/out"
	policy_out "github.com/duskvault/signing-core/pkg/cp/policy/ports/out"
	recovery_out "github.com/duskvault/signing-core/pkg/cp/recovery/ports/out"
	signing_out "github.com/duskvault/signing-core/pkg/cp/signing/ports/out"
)

// StaticSanctionsScreener screens against an in-memory address set plus a
// set of accounts flagged for sanctions testing. The production deployment
// feeds both from the compliance pipeline.
type StaticSanctionsScreener struct {
	mu           sync.RWMutex
	addresses    map[string]struct{}
	testAccounts map[string]struct{}
}

// NewStaticSanctionsScreener builds a screener over the given address list.
func NewStaticSanctionsScreener(addresses []string, testAccounts []string) *StaticSanctionsScreener {
	s := &StaticSanctionsScreener{
		addresses:    make(map[string]struct{}, len(addresses)),
		testAccounts: make(map[string]struct{}, len(testAccounts)),
	}
	for _, a := range addresses {
		s.addresses[strings.TrimSpace(a)] = struct{}{}
	}
	for _, a := range testAccounts {
		s.testAccounts[strings.TrimSpace(a)] = struct{}{}
	}
	return s
}

var _ policy_out.SanctionsScreener = (*StaticSanctionsScreener)(nil)

func (s *StaticSanctionsScreener) IsSanctioned(_ context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, hit := s.addresses[address]
	return hit, nil
}

func (s *StaticSanctionsScreener) IsSanctionsTestAccount(_ context.Context, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, hit := s.testAccounts[accountID]
	return hit, nil
}

// FixedRateProvider serves a static sats-per-fiat-unit table. The real
// deployment swaps in the exchange-rate oracle client; the daily-spend
// rule's fail-closed behavior on outage lives in the PolicyEngine, not
// here.
type FixedRateProvider struct {
	rates map[string]float64
}

// NewFixedRateProvider builds a provider over the given rate table.
func NewFixedRateProvider(rates map[string]float64) *FixedRateProvider {
	return &FixedRateProvider{rates: rates}
}

var _ policy_out.RateProvider = (*FixedRateProvider)(nil)

func (p *FixedRateProvider) SatsPerFiatUnit(_ context.Context, fiatUnit string) (float64, error) {
	rate, ok := p.rates[fiatUnit]
	if !ok {
		return 0, fmt.Errorf("adapters: no rate for fiat unit %q", fiatUnit)
	}
	return rate, nil
}

// LogSender is the default notify.Sender: it records the dispatch in the
// structured log. Push/SMS/email routing belongs to the delivery platform
// outside this core.
type LogSender struct{}

var _ notify_out.Sender = (*LogSender)(nil)

func (LogSender) Send(ctx context.Context, e notify_entities.Event) error {
	slog.InfoContext(ctx, "notification dispatched", "kind", e.Kind, "account_id", e.AccountID, "key", e.Key)
	return nil
}

// LogCodeDeliverer is the default comms-code delivery adapter. It logs the
// scope but never the code itself.
type LogCodeDeliverer struct{}

var _ comms_out.CodeDeliverer = (*LogCodeDeliverer)(nil)

func (LogCodeDeliverer) Deliver(ctx context.Context, accountID, scope, _ string) error {
	slog.InfoContext(ctx, "comms code delivery requested", "account_id", accountID, "scope", scope)
	return nil
}

// NoopIdentityProvider satisfies the recovery IdentityProvider port when no
// external identity service is wired.
type NoopIdentityProvider struct{}

var _ recovery_out.IdentityProvider = (*NoopIdentityProvider)(nil)

func (NoopIdentityProvider) EnsureRecoveryUser(ctx context.Context, accountID string, _ []byte) error {
	slog.InfoContext(ctx, "recovery user ensured", "account_id", accountID)
	return nil
}

func (NoopIdentityProvider) EnsureRecoveryUserAbsent(ctx context.Context, accountID string) error {
	slog.InfoContext(ctx, "recovery user absence ensured", "account_id", accountID)
	return nil
}

// EmptyWalletInspector treats every wallet as empty. Deployments point this
// at the chain indexer; tests drive the port directly.
type EmptyWalletInspector struct{}

var _ inheritance_out.WalletInspector = (*EmptyWalletInspector)(nil)

func (EmptyWalletInspector) HasSpendableBalance(_ context.Context, _ inheritance_entities.KeysetSnapshot) (bool, error) {
	return false, nil
}

// LogBroadcaster satisfies the Broadcaster port by logging the handoff; the
// real adapter forwards the finalized bytes to the broadcast service; this
// core never talks to the network itself.
type LogBroadcaster struct{}

var _ signing_out.Broadcaster = (*LogBroadcaster)(nil)

func (LogBroadcaster) Broadcast(ctx context.Context, txID, _ string) error {
	slog.InfoContext(ctx, "transaction handed to broadcaster", "txid", txID)
	return nil
}
