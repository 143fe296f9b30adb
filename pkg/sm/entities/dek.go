package sm_entities

import "time"

// DEKLeaseCeiling is the maximum number of sealing operations a single lease
// may authorize before the SM must mint a fresh DEK.
const DEKLeaseCeiling = 50

// DEKUsageCeiling is the maximum lifetime usage_count a DEK may reach before
// it is retired and superseded by a newly wrapped DEK.
const DEKUsageCeiling = 2_000_000

// DEK is a data-encryption key wrapped under the KEK boundary (see
// pkg/infra/kms). The SM never holds a DEK's plaintext outside of an active
// lease window.
type DEK struct {
	DEKID       string `bson:"_id"`
	WrappedDEK  []byte // ciphertext, unwrapped via the KMS client on lease acquisition
	UsageCount  int64
	IsAvailable bool
	CreatedAt   time.Time
	RetiredAt   *time.Time
}

// Exhausted reports whether d has reached its lifetime usage ceiling and must
// not be leased again.
func (d *DEK) Exhausted() bool {
	return d.UsageCount >= DEKUsageCeiling
}

// Lease is the in-memory, never-persisted handle returned while a DEK's
// plaintext is unwrapped and available for sealing operations. It expires
// after DEKLeaseCeiling sealings or when explicitly released.
type Lease struct {
	DEKID       string
	Plaintext   []byte // zeroed by the caller on release
	SealingsUsed int
}

// Remaining reports how many more sealings this lease may authorize.
func (l *Lease) Remaining() int {
	r := DEKLeaseCeiling - l.SealingsUsed
	if r < 0 {
		return 0
	}
	return r
}
