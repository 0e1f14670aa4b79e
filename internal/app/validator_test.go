package app

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/w3hc/vault-relay/internal/domain"
)

const (
	testVault     = "0x1111111111111111111111111111111111111111"
	testToken     = "0x2222222222222222222222222222222222222222"
	testRecipient = "0x3333333333333333333333333333333333333333"
)

// newSessionKeyPair generates a fresh session key and returns its private key
// plus its checksum address.
func newSessionKeyPair(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// signTransfer produces the wallet-convention signature over the canonical
// transfer message for (recipient, amount).
func signTransfer(t *testing.T, key *ecdsa.PrivateKey, recipient string, amount *big.Int) []byte {
	t.Helper()
	message, err := SessionMessage(recipient, amount)
	if err != nil {
		t.Fatalf("session message encoding failed: %v", err)
	}
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, sessionAddr, recipient string, amount *big.Int) domain.TransferRequest {
	t.Helper()
	return domain.TransferRequest{
		VaultAddress:      testVault,
		TokenAddress:      testToken,
		Recipient:         recipient,
		Amount:            amount,
		SessionKeyAddress: sessionAddr,
		Signature:         signTransfer(t, key, recipient, amount),
		ChainID:           11155111,
	}
}

func validKey(sessionAddr string, now time.Time) domain.SessionKey {
	return domain.SessionKey{
		Address:       sessionAddr,
		SpendingLimit: big.NewInt(1_000_000),
		ValidUntil:    now.Add(time.Hour).Unix(),
	}
}

func TestValidatePolicy_AcceptsWellFormedRequest(t *testing.T) {
	priv, addr := newSessionKeyPair(t)
	now := time.Now()
	req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))

	if err := ValidatePolicy(req, validKey(addr, now), now); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func TestValidatePolicy_ExpiryBoundaryIsInclusive(t *testing.T) {
	priv, addr := newSessionKeyPair(t)
	now := time.Unix(1_700_000_000, 0)
	req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))

	key := validKey(addr, now)
	key.ValidUntil = now.Unix()
	if err := ValidatePolicy(req, key, now); err != nil {
		t.Fatalf("expected now == validUntil to pass, got %v", err)
	}

	if err := ValidatePolicy(req, key, now.Add(time.Second)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired one second past the boundary, got %v", err)
	}
}

func TestValidatePolicy_NotYetValidKeyIsExpired(t *testing.T) {
	priv, addr := newSessionKeyPair(t)
	now := time.Now()
	req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))

	key := validKey(addr, now)
	key.ValidAfter = now.Add(time.Hour).Unix()
	key.ValidUntil = now.Add(2 * time.Hour).Unix()
	if err := ValidatePolicy(req, key, now); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired before validAfter, got %v", err)
	}
}

func TestValidatePolicy_ChecksShortCircuitInOrder(t *testing.T) {
	priv, addr := newSessionKeyPair(t)
	now := time.Now()

	cases := []struct {
		name string
		req  func() domain.TransferRequest
		key  func() domain.SessionKey
		want error
	}{
		{
			// An expired key with a garbage amount still reports expiry.
			name: "expiry beats amount",
			req: func() domain.TransferRequest {
				req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))
				req.Amount = big.NewInt(0)
				return req
			},
			key: func() domain.SessionKey {
				key := validKey(addr, now)
				key.ValidUntil = now.Add(-time.Hour).Unix()
				return key
			},
			want: ErrSessionExpired,
		},
		{
			name: "zero amount",
			req: func() domain.TransferRequest {
				req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))
				req.Amount = big.NewInt(0)
				return req
			},
			key:  func() domain.SessionKey { return validKey(addr, now) },
			want: ErrInvalidAmount,
		},
		{
			name: "negative amount",
			req: func() domain.TransferRequest {
				req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))
				req.Amount = big.NewInt(-1)
				return req
			},
			key:  func() domain.SessionKey { return validKey(addr, now) },
			want: ErrInvalidAmount,
		},
		{
			// A mismatched signature must be reported before the limit check
			// even when the amount also breaks the limit.
			name: "signature beats limit",
			req: func() domain.TransferRequest {
				req := signedRequest(t, priv, addr, testRecipient, big.NewInt(5_000_000))
				req.Signature[10] ^= 0xff
				return req
			},
			key:  func() domain.SessionKey { return validKey(addr, now) },
			want: ErrSignatureMismatch,
		},
		{
			name: "limit exceeded",
			req: func() domain.TransferRequest {
				return signedRequest(t, priv, addr, testRecipient, big.NewInt(5_000_000))
			},
			key:  func() domain.SessionKey { return validKey(addr, now) },
			want: ErrLimitExceeded,
		},
		{
			name: "zero-address recipient",
			req: func() domain.TransferRequest {
				zero := "0x0000000000000000000000000000000000000000"
				return signedRequest(t, priv, addr, zero, big.NewInt(500))
			},
			key:  func() domain.SessionKey { return validKey(addr, now) },
			want: ErrInvalidRecipient,
		},
		{
			name: "malformed recipient",
			req: func() domain.TransferRequest {
				return signedRequest(t, priv, addr, "not-an-address", big.NewInt(500))
			},
			key:  func() domain.SessionKey { return validKey(addr, now) },
			want: ErrInvalidRecipient,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidatePolicy(tc.req(), tc.key(), now); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidatePolicy_SignatureBindsRecipientAndAmount(t *testing.T) {
	priv, addr := newSessionKeyPair(t)
	now := time.Now()

	req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))
	req.Amount = big.NewInt(501)
	if err := ValidatePolicy(req, validKey(addr, now), now); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for tampered amount, got %v", err)
	}

	req = signedRequest(t, priv, addr, testRecipient, big.NewInt(500))
	req.Recipient = "0x4444444444444444444444444444444444444444"
	if err := ValidatePolicy(req, validKey(addr, now), now); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for tampered recipient, got %v", err)
	}
}

func TestValidatePolicy_RejectsSignatureFromOtherKey(t *testing.T) {
	priv, _ := newSessionKeyPair(t)
	_, otherAddr := newSessionKeyPair(t)
	now := time.Now()

	// Signed by priv, claimed to be otherAddr.
	req := signedRequest(t, priv, otherAddr, testRecipient, big.NewInt(500))
	if err := ValidatePolicy(req, validKey(otherAddr, now), now); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for foreign signer, got %v", err)
	}
}

func TestValidatePolicy_IsDeterministic(t *testing.T) {
	priv, addr := newSessionKeyPair(t)
	now := time.Now()
	req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))
	key := validKey(addr, now)

	first := ValidatePolicy(req, key, now)
	for i := 0; i < 10; i++ {
		if got := ValidatePolicy(req, key, now); !errors.Is(got, first) && got != first {
			t.Fatalf("run %d diverged: first=%v got=%v", i, first, got)
		}
	}
}
