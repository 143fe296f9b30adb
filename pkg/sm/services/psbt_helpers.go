package services

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

// fingerprintOf returns the BIP-32 master-key fingerprint of an extended
// key: the first four bytes of HASH160(serialized compressed pubkey).
func fingerprintOf(key *hdkeychain.ExtendedKey) ([4]byte, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return [4]byte{}, fmt.Errorf("deriving pubkey for fingerprint: %w", err)
	}
	return fingerprintOfPubKey(pub.SerializeCompressed()), nil
}

// fingerprintOfPubKey computes the BIP-32 fingerprint of a raw compressed
// public key: the first four bytes of HASH160.
func fingerprintOfPubKey(pubKey []byte) [4]byte {
	var fp [4]byte
	copy(fp[:], btcutil.Hash160(pubKey)[:4])
	return fp
}

// randomSeed returns fresh entropy for hdkeychain.NewMaster. A production
// deployment would source this from the KMS-backed RNG rather than
// crypto/rand directly, but the boundary here is the same either way: the
// caller never sees the seed.
func randomSeed() []byte {
	seed := make([]byte, hdkeychainSeedSize)
	if _, err := rand.Read(seed); err != nil {
		panic(fmt.Sprintf("keystore: reading random seed: %v", err))
	}
	return seed
}

const hdkeychainSeedSize = 32


// zero overwrites key material before it is released back to the garbage
// collector.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// inputDerivation returns the BIP-32 derivation on in that references the
// keyset's fingerprint, or nil when this input does not involve the keyset.
// The psbt package stores the fingerprint as a little-endian uint32 of the
// original four bytes.
func inputDerivation(in *psbt.PInput, fingerprint [4]byte) *psbt.Bip32Derivation {
	want := binary.LittleEndian.Uint32(fingerprint[:])
	for _, d := range in.Bip32Derivation {
		if d.MasterKeyFingerprint == want {
			return d
		}
	}
	return nil
}

// signingKeyFor reconstructs the private key that signs input in.
// LegacyMultiSig stores a serialized extended private key and derives the
// leaf along the input's own BIP-32 path; PrivateMultiSig and
// DistributedKey store the raw 32-byte scalar directly. A nil key with nil
// error means this input does not reference the keyset and is another
// cosigner's to sign.
func signingKeyFor(rec *smentities.ServerKeyRecord, material []byte, in *psbt.PInput) (*btcec.PrivateKey, error) {
	switch rec.Kind {
	case smentities.LegacyMultiSig:
		d := inputDerivation(in, rec.PublicMaterial.Fingerprint)
		if d == nil {
			return nil, nil
		}
		key, err := hdkeychain.NewKeyFromString(string(material))
		if err != nil {
			return nil, fmt.Errorf("parsing extended private key: %w", err)
		}
		for _, childIndex := range d.Bip32Path {
			key, err = key.Derive(childIndex)
			if err != nil {
				return nil, fmt.Errorf("deriving child %d: %w", childIndex, err)
			}
		}
		return key.ECPrivKey()
	case smentities.PrivateMultiSig, smentities.DistributedKey:
		priv, _ := btcec.PrivKeyFromBytes(material)
		return priv, nil
	default:
		return nil, fmt.Errorf("unrecognized keyset kind %q", rec.Kind)
	}
}

// signPSBTInput signs packet's input at idx with the keyset's key, assuming
// a native segwit (P2WSH or P2WPKH) UTXO, which is all this module's
// multisig constructions produce. The resulting
// signature is recorded as a partial signature for the downstream
// finalizer/combiner, matching the server's role as one cosigner among
// several. Returns false when the input is not this keyset's to sign.
func signPSBTInput(packet *psbt.Packet, idx int, rec *smentities.ServerKeyRecord, material []byte) (bool, error) {
	in := &packet.Inputs[idx]
	priv, err := signingKeyFor(rec, material, in)
	if err != nil {
		return false, err
	}
	if priv == nil {
		return false, nil
	}
	if in.WitnessUtxo == nil {
		return false, fmt.Errorf("input %d has no witness utxo; only native segwit inputs are supported", idx)
	}

	pubKey := priv.PubKey().SerializeCompressed()
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			// Already signed by this key: idempotent re-submission.
			return true, nil
		}
	}

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(in.WitnessUtxo.PkScript, in.WitnessUtxo.Value)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, prevOutFetcher)

	script := in.WitnessScript
	if len(script) == 0 {
		script = in.WitnessUtxo.PkScript
	}

	sigHash, err := txscript.CalcWitnessSigHash(script, sigHashes, txscript.SigHashAll, packet.UnsignedTx, idx, in.WitnessUtxo.Value)
	if err != nil {
		return false, fmt.Errorf("computing witness sighash: %w", err)
	}

	sig := ecdsa.Sign(priv, sigHash)
	sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))

	in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
		PubKey:    pubKey,
		Signature: sigBytes,
	})
	return true, nil
}
