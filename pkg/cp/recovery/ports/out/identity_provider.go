package out

import "context"

// IdentityProvider is the abstract boundary to the external identity
// service holding recovery-contact users. Recovery completion must ensure
// the recovery user exists exactly when a destination recovery key was
// supplied, and does not exist otherwise.
type IdentityProvider interface {
	EnsureRecoveryUser(ctx context.Context, accountID string, recoveryPub []byte) error
	EnsureRecoveryUserAbsent(ctx context.Context, accountID string) error
}
