package aptosman

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/crypto"
	"golang.org/x/crypto/ed25519"
)

// LoadAccount creates an Aptos account from a hex encoded ed25519 key,
// either the 32-byte seed or the 64-byte seed||public key form.
func LoadAccount(privateKeyHex string) (*aptos.Account, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	var seed []byte
	switch len(raw) {
	case ed25519.SeedSize:
		seed = raw
	case ed25519.PrivateKeySize:
		// the trailing half must be the public key of the seed
		seed = raw[:ed25519.SeedSize]
		expected := ed25519.NewKeyFromSeed(seed)
		if !expected.Equal(ed25519.PrivateKey(raw)) {
			return nil, fmt.Errorf("private key does not match its public half")
		}
	default:
		return nil, fmt.Errorf("invalid ed25519 private key size: %d", len(raw))
	}

	key := crypto.Ed25519PrivateKey{}
	if err := key.FromBytes(seed); err != nil {
		return nil, fmt.Errorf("failed to create ed25519 private key: %v", err)
	}

	account, err := aptos.NewAccountFromSigner(&key)
	if err != nil {
		return nil, fmt.Errorf("failed to create account from private key: %v", err)
	}
	return account, nil
}
