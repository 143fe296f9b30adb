package in

import (
	"context"

	entities "github.com/duskvault/signing-core/pkg/cp/policy/entities"
)

// Verdict is PolicyEngine's output: Allow or Deny{reasons}, surfaced
// verbatim to the caller for their audit trail.
type Verdict struct {
	Allowed bool
	Reasons []string
}

// PolicyEngine is the inbound port the SigningOrchestrator calls to decide
// whether the server may co-sign a PSBT without hardware attestation.
type PolicyEngine interface {
	Evaluate(ctx context.Context, psbt entities.PSBTContext, dailyCapSats int64, fiatUnit string) (Verdict, error)
	// EvaluateSweep runs only the sanctioned-outputs and address-attribution
	// rules; the sweep path bypasses the daily-spend rule.
	EvaluateSweep(ctx context.Context, psbt entities.PSBTContext) (Verdict, error)
}
