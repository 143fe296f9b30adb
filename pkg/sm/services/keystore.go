package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	common "github.com/duskvault/signing-core/pkg/common"
	smcrypto "github.com/duskvault/signing-core/pkg/infra/crypto"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	in "github.com/duskvault/signing-core/pkg/sm/ports/in"
)

// KeysetRepository persists ServerKeyRecords inside the SM's protection
// domain.
type KeysetRepository interface {
	Insert(ctx context.Context, rec *smentities.ServerKeyRecord) error
	FindByID(ctx context.Context, keysetID string) (*smentities.ServerKeyRecord, error)
}

// KeyStore implements in.KeyStoreService: it mints server key shares and
// produces server signatures over policy-cleared PSBTs.
type KeyStore struct {
	keysets   KeysetRepository
	leases    *DEKLeaseManager
	integrity *IntegrityKeyManager
	sealer    *smcrypto.AEADSealer
}

// NewKeyStore constructs a KeyStore bound to its repository, DEK lease
// manager, and the installation's integrity key manager.
func NewKeyStore(keysets KeysetRepository, leases *DEKLeaseManager, integrity *IntegrityKeyManager) *KeyStore {
	return &KeyStore{keysets: keysets, leases: leases, integrity: integrity, sealer: smcrypto.NewAEADSealer()}
}

var _ in.KeyStoreService = (*KeyStore)(nil)

func netParams(n common.Network) *chaincfg.Params {
	switch n {
	case common.Mainnet:
		return &chaincfg.MainNetParams
	case common.Signet:
		return &chaincfg.SigNetParams
	case common.Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

// CreateKeyset mints a new server key share for the requested multisig kind,
// seals it under a leased DEK with AAD bound to the keyset_id,
// and returns only the public material the control plane is allowed to see.
func (k *KeyStore) CreateKeyset(ctx context.Context, req in.CreateKeysetRequest) (in.CreateKeysetResult, error) {
	if !req.Network.Valid() {
		return in.CreateKeysetResult{}, common.NewErrInvalidInput("unrecognized network %q", req.Network)
	}

	keysetID := uuid.New().String()
	params := netParams(req.Network)

	master, err := hdkeychain.NewMaster(randomSeed(), params)
	if err != nil {
		return in.CreateKeysetResult{}, common.NewErrInternal("deriving master extended key", err)
	}

	var pub smentities.PublicMaterial
	var plaintextMaterial []byte

	switch req.Kind {
	case smentities.LegacyMultiSig:
		// The descriptor carries the account-level xpub at the standard
		// purpose'/coin'/account' path; the sealed material stays the master
		// xprv so signing can follow each input's full derivation.
		accountKey, err := deriveAccountKey(master, req.Network)
		if err != nil {
			return in.CreateKeysetResult{}, common.NewErrInternal("deriving account key", err)
		}
		neutered, err := accountKey.Neuter()
		if err != nil {
			return in.CreateKeysetResult{}, common.NewErrInternal("neutering extended key", err)
		}
		fp, err := fingerprintOf(master)
		if err != nil {
			return in.CreateKeysetResult{}, common.NewErrInternal("computing fingerprint", err)
		}
		pub = smentities.PublicMaterial{Kind: smentities.LegacyMultiSig, XPub: neutered.String(), Fingerprint: fp}
		plaintextMaterial = []byte(master.String())

	case smentities.PrivateMultiSig:
		priv, err := master.ECPrivKey()
		if err != nil {
			return in.CreateKeysetResult{}, common.NewErrInternal("deriving ec private key", err)
		}
		pubKey := priv.PubKey().SerializeCompressed()
		// The integrity signature lets the device audit that this share was
		// minted inside the SM: it covers the public key itself, under the
		// per-installation integrity key.
		integritySig, err := k.integrity.Sign(ctx, pubKey)
		if err != nil {
			return in.CreateKeysetResult{}, fmt.Errorf("keystore: signing integrity tag: %w", err)
		}
		pub = smentities.PublicMaterial{Kind: smentities.PrivateMultiSig, PubKey: pubKey, IntegritySig: integritySig, Fingerprint: fingerprintOfPubKey(pubKey)}
		plaintextMaterial = priv.Serialize()

	case smentities.DistributedKey:
		// The DKG transcript exchange with the caller happens over the
		// device protocol; this mints and seals the server's share of the
		// resulting group key.
		priv, err := master.ECPrivKey()
		if err != nil {
			return in.CreateKeysetResult{}, common.NewErrInternal("deriving ec private key", err)
		}
		pubKey := priv.PubKey().SerializeCompressed()
		pub = smentities.PublicMaterial{Kind: smentities.DistributedKey, PubKey: pubKey, Fingerprint: fingerprintOfPubKey(pubKey)}
		plaintextMaterial = priv.Serialize()

	default:
		return in.CreateKeysetResult{}, common.NewErrInvalidInput("unrecognized keyset kind %q", req.Kind)
	}

	lease, err := k.leases.Acquire(ctx)
	if err != nil {
		return in.CreateKeysetResult{}, fmt.Errorf("keystore: acquiring dek lease: %w", err)
	}
	defer zero(lease.Plaintext)

	wrapped, err := k.sealer.Seal(lease.Plaintext, plaintextMaterial, []byte(keysetID))
	if err != nil {
		// Sealing failed mid-flight: the keyset is not persisted and the
		// caller retries.
		return in.CreateKeysetResult{}, common.NewErrInternal("sealing key material", err)
	}
	if err := k.leases.RecordSealing(ctx, lease); err != nil {
		return in.CreateKeysetResult{}, fmt.Errorf("keystore: recording sealing: %w", err)
	}

	rec := &smentities.ServerKeyRecord{
		KeysetID:       keysetID,
		Network:        req.Network,
		Kind:           req.Kind,
		DEKID:          lease.DEKID,
		Wrapped:        wrapped,
		PublicMaterial: pub,
	}
	if err := k.keysets.Insert(ctx, rec); err != nil {
		return in.CreateKeysetResult{}, fmt.Errorf("keystore: persisting keyset: %w", err)
	}

	return in.CreateKeysetResult{KeysetID: keysetID, PublicMaterial: pub}, nil
}

// SignPSBT produces server signatures for every input of a PSBT the control
// plane has already validated and policy-cleared. For MethodLegacySweep the
// named keyset is the source (inactive) one, signing a drain of its UTXOs
// even though the caller's active keyset is different.
func (k *KeyStore) SignPSBT(ctx context.Context, req in.SignPSBTRequest) (in.SignPSBTResult, error) {
	rec, err := k.keysets.FindByID(ctx, req.KeysetID)
	if err != nil {
		return in.SignPSBTResult{}, fmt.Errorf("keystore: loading keyset %s: %w", req.KeysetID, err)
	}
	if rec == nil {
		return in.SignPSBTResult{}, common.NewErrNotFound("keyset", req.KeysetID)
	}

	lease, err := k.leases.AcquireFor(ctx, rec.DEKID)
	if err != nil {
		return in.SignPSBTResult{}, fmt.Errorf("keystore: acquiring dek lease: %w", err)
	}
	defer zero(lease.Plaintext)

	material, err := k.sealer.Open(lease.Plaintext, rec.Wrapped, []byte(rec.KeysetID))
	if err != nil {
		// Deliberately opaque: no distinction between AAD mismatch, wrong
		// DEK, or corrupt ciphertext.
		return in.SignPSBTResult{}, common.NewErrInternal("opening sealed key material", nil)
	}
	defer zero(material)

	raw, err := base64.StdEncoding.DecodeString(req.PSBTBase64)
	if err != nil {
		return in.SignPSBTResult{}, common.NewErrInvalidInput("malformed psbt base64: %v", err)
	}
	packet, err := psbt.NewFromRawBytes(newByteReader(raw), false)
	if err != nil {
		return in.SignPSBTResult{}, common.NewErrInvalidInput("malformed psbt: %v", err)
	}

	signed := 0
	for i := range packet.Inputs {
		ok, err := signPSBTInput(packet, i, rec, material)
		if err != nil {
			return in.SignPSBTResult{}, common.NewErrInternal(fmt.Sprintf("signing input %d", i), err)
		}
		if ok {
			signed++
		}
	}
	if signed == 0 {
		return in.SignPSBTResult{}, common.NewErrInvalidInput("no input is signable by keyset %s", req.KeysetID)
	}

	encoded, err := packet.B64Encode()
	if err != nil {
		return in.SignPSBTResult{}, common.NewErrInternal("encoding signed psbt", err)
	}

	slog.InfoContext(ctx, "psbt signed",
		"keyset_id", req.KeysetID,
		"method", req.Method,
		"inputs_signed", signed,
	)
	return in.SignPSBTResult{SignedPSBTBase64: encoded}, nil
}

// RotateIntegrityMaterial replaces the installation's integrity key.
func (k *KeyStore) RotateIntegrityMaterial(ctx context.Context) error {
	return k.integrity.Rotate(ctx)
}
