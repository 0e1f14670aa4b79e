/**
 * @description
 * This file implements the local signing authority: an in-process secp256k1
 * key standing in for the passkey-backed wallet SDK's derived signer. The
 * relay request carries the owner key material, so a signer is constructed
 * per request and discarded with it.
 */

package relay

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner signs with an in-memory secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses hex-encoded key material (0x prefix optional).
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid owner key material: %w", err)
	}
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's on-chain identity.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignMessage signs the EIP-191 personal-sign hash of message and returns a
// 65-byte signature with the wallet-convention 27/28 recovery id.
func (s *LocalSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, fmt.Errorf("owner signing failed: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
