package services

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	common "github.com/duskvault/signing-core/pkg/common"
)

// Derivation purposes. Wallet keys follow BIP-84 (native segwit). Device
// authentication keys live at m/87497287'/0', a dedicated purpose that can
// never collide with spend keys; devices derive that tree themselves, the
// server only records the convention.
const (
	AuthKeyPurpose = 87497287

	walletPurpose = 84
	accountIndex  = 0
)

// coinType returns the BIP-44 coin type for a network: 0' on mainnet, 1'
// everywhere else.
func coinType(n common.Network) uint32 {
	if n == common.Mainnet {
		return 0
	}
	return 1
}

// deriveAccountKey walks master down the hardened
// purpose'/coin_type'/account' wallet path.
func deriveAccountKey(master *hdkeychain.ExtendedKey, n common.Network) (*hdkeychain.ExtendedKey, error) {
	key := master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + walletPurpose,
		hdkeychain.HardenedKeyStart + coinType(n),
		hdkeychain.HardenedKeyStart + accountIndex,
	} {
		var err error
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("deriving account path step %d: %w", step, err)
		}
	}
	return key, nil
}

