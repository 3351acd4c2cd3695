package exchange

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/perpcore/trading-core/internal/coreerr"
)

// Signer wallet-signs order payloads, the venue's auth scheme in place of
// Binance-style HMAC query-string signing. Grounded on
// AlejandroRuiz99-polybot's AuthClient (crypto.HexToECDSA / PubkeyToAddress
// / crypto.Sign over a keccak256 digest) and ChoSanghyuk-blackholedex's use
// of the same package for EVM-settled venue auth.
type Signer struct {
	key *ecdsa.PrivateKey
	address common.Address
}

// NewSigner loads a wallet private key (hex, no 0x prefix) for order
// signing. Returns a ConfigError if the key is missing or malformed; the
// binary treats this as fatal at startup, dry run or not.
func NewSigner(privateKeyHex string) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, coreerr.New(coreerr.KindConfig, "venue private key not configured")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindConfig, "invalid venue private key", err)
	}
	return &Signer{
		key: key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the wallet address orders are signed and submitted from.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign produces a 65-byte [R||S||V] signature over the keccak256 digest of
// the order payload's canonical JSON encoding.
func (s *Signer) Sign(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshal order payload: %w", err)
	}
	digest := crypto.Keccak256Hash(body)
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("exchange: sign order payload: %w", err)
	}
	return sig, nil
}
