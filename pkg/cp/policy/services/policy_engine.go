// Package services implements PolicyEngine's ordered rule set.
package services

import (
	"context"
	"fmt"
	"log/slog"

	entities "github.com/duskvault/signing-core/pkg/cp/policy/entities"
	in "github.com/duskvault/signing-core/pkg/cp/policy/ports/in"
	out "github.com/duskvault/signing-core/pkg/cp/policy/ports/out"
)

// PolicyEngine evaluates every rule in order, short-circuiting on the first
// rejection: any rule's failure rejects the PSBT.
type PolicyEngine struct {
	sanctions out.SanctionsScreener
	rates     out.RateProvider
	ledger    out.SpendingLedger
}

// NewPolicyEngine constructs a PolicyEngine bound to its three external
// collaborators.
func NewPolicyEngine(sanctions out.SanctionsScreener, rates out.RateProvider, ledger out.SpendingLedger) *PolicyEngine {
	return &PolicyEngine{sanctions: sanctions, rates: rates, ledger: ledger}
}

var _ in.PolicyEngine = (*PolicyEngine)(nil)

func (p *PolicyEngine) Evaluate(ctx context.Context, psbt entities.PSBTContext, dailyCapSats int64, fiatUnit string) (in.Verdict, error) {
	if deny, err := p.checkSanctionedOutputs(ctx, psbt); err != nil {
		return in.Verdict{}, err
	} else if deny != "" {
		return in.Verdict{Allowed: false, Reasons: []string{deny}}, nil
	}

	if deny := p.checkAddressAttribution(psbt); deny != "" {
		return in.Verdict{Allowed: false, Reasons: []string{deny}}, nil
	}

	allow, deny, err := p.checkDailySpend(ctx, psbt, dailyCapSats, fiatUnit)
	if err != nil {
		return in.Verdict{}, err
	}
	if !allow {
		return in.Verdict{Allowed: false, Reasons: []string{deny}}, nil
	}

	return in.Verdict{Allowed: true}, nil
}

// EvaluateSweep runs only rules 1-2; a sweep bypasses the daily-spend rule.
func (p *PolicyEngine) EvaluateSweep(ctx context.Context, psbt entities.PSBTContext) (in.Verdict, error) {
	if deny, err := p.checkSanctionedOutputs(ctx, psbt); err != nil {
		return in.Verdict{}, err
	} else if deny != "" {
		return in.Verdict{Allowed: false, Reasons: []string{deny}}, nil
	}
	if deny := p.checkAddressAttribution(psbt); deny != "" {
		return in.Verdict{Allowed: false, Reasons: []string{deny}}, nil
	}
	return in.Verdict{Allowed: true}, nil
}

// checkSanctionedOutputs is rule 1: reject if any output address is
// sanctioned, or the account is a sanctions-test account.
func (p *PolicyEngine) checkSanctionedOutputs(ctx context.Context, psbt entities.PSBTContext) (string, error) {
	if isTest, err := p.sanctions.IsSanctionsTestAccount(ctx, psbt.AccountID); err != nil {
		return "", fmt.Errorf("policy: checking sanctions-test flag: %w", err)
	} else if isTest {
		return "sanctions: account is flagged as a sanctions-test account", nil
	}
	for _, o := range psbt.Outputs {
		sanctioned, err := p.sanctions.IsSanctioned(ctx, o.Address)
		if err != nil {
			return "", fmt.Errorf("policy: screening output address: %w", err)
		}
		if sanctioned {
			return fmt.Sprintf("sanctions: output address %s is sanctioned", o.Address), nil
		}
	}
	return "", nil
}

// checkAddressAttribution is rule 2: for a sweep, every input must belong to
// the source wallet and the single output to the destination wallet; for a
// normal send, every input and change output must belong to the sender, and
// at least one output must be external.
func (p *PolicyEngine) checkAddressAttribution(psbt entities.PSBTContext) string {
	switch psbt.Kind {
	case entities.EvaluationSweep:
		// In a sweep context, input attribution runs against the source
		// keyset and output attribution against the destination keyset, so
		// BelongsToSender on the single output means destination-owned.
		for _, input := range psbt.Inputs {
			if !input.BelongsToSender {
				return "address-attribution: sweep input does not belong to the source wallet"
			}
		}
		if len(psbt.Outputs) != 1 {
			return "address-attribution: sweep must have exactly one output"
		}
		if !psbt.Outputs[0].BelongsToSender {
			return "address-attribution: sweep output does not belong to the destination wallet"
		}
		return ""
	default:
		for _, input := range psbt.Inputs {
			if !input.BelongsToSender {
				return "address-attribution: input does not belong to the sender's wallet"
			}
		}
		hasExternal := false
		for _, o := range psbt.Outputs {
			if !o.BelongsToSender {
				hasExternal = true
			}
		}
		if !hasExternal {
			return "address-attribution: no output is an external recipient"
		}
		return ""
	}
}

// checkDailySpend is rule 3: reject if this txid's outflow, added to
// today's recorded total, would exceed the account's daily cap. Rule 4
// (existing-entry) is folded in here since both rules consult the same
// ledger read.
func (p *PolicyEngine) checkDailySpend(ctx context.Context, psbt entities.PSBTContext, dailyCapSats int64, fiatUnit string) (bool, string, error) {
	already, err := p.ledger.HasEntryToday(ctx, psbt.AccountID, psbt.TxID)
	if err != nil {
		return false, "", fmt.Errorf("policy: checking existing ledger entry: %w", err)
	}
	if already {
		// Rule 4: idempotent resubmission, skip the cap check entirely.
		return true, "", nil
	}

	capSats := dailyCapSats
	if fiatUnit != "" {
		rate, err := p.rates.SatsPerFiatUnit(ctx, fiatUnit)
		if err != nil {
			if psbt.IsTestAccount {
				slog.WarnContext(ctx, "rate provider unreachable, failing open for test account", "account_id", psbt.AccountID)
			} else {
				return false, "daily-spend: fiat rate provider unavailable", nil
			}
		} else {
			capSats = int64(float64(dailyCapSats) * rate)
		}
	}

	current, err := p.ledger.SumOutflowToday(ctx, psbt.AccountID)
	if err != nil {
		return false, "", fmt.Errorf("policy: summing today's outflow: %w", err)
	}

	if current+psbt.Outflow() > capSats {
		return false, "daily-spend: transaction would exceed the account's daily cap", nil
	}
	return true, "", nil
}
