/**
 * @description
 * This file implements the geth-backed execution backend: it wraps the vault
 * contract's execTransaction call in a relayer-signed transaction, submits it
 * through the JSON-RPC node, and exposes a receipt-wait handle. All shape
 * normalization of the node's responses happens here; the executor only ever
 * sees the typed Submission.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: ABI packing, transaction types, bind.WaitMined.
 * - pkg/chainclient: node connection and ERC-20 call-data encoding.
 */

package relay

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/w3hc/vault-relay/pkg/chainclient"
)

const vaultABIJSON = `[
	{"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"signature","type":"bytes"}],"name":"execTransaction","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// fallbackGasLimit is used when gas estimation fails against the node.
const fallbackGasLimit = 300_000

// GethBackend submits vault executions through a JSON-RPC node with the
// relayer's credential paying the fee.
type GethBackend struct {
	client     *chainclient.Client
	vaultABI   abi.ABI
	relayerKey *ecdsa.PrivateKey
	relayer    common.Address
	chainID    *big.Int
}

// NewGethBackend parses the relayer's key material and prepares the vault ABI.
func NewGethBackend(client *chainclient.Client, relayerHexKey string, chainID int64) (*GethBackend, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(relayerHexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key material: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid vault ABI: %w", err)
	}
	return &GethBackend{
		client:     client,
		vaultABI:   parsed,
		relayerKey: key,
		relayer:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// RelayerAddress returns the fee-paying account.
func (b *GethBackend) RelayerAddress() common.Address {
	return b.relayer
}

// BuildTransfer encodes the token-transfer call the vault will execute.
func (b *GethBackend) BuildTransfer(ctx context.Context, spec CallSpec) (*UnsignedCall, error) {
	callData, err := chainclient.PackTransfer(spec.Recipient, spec.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call data: %w", err)
	}
	return &UnsignedCall{Spec: spec, CallData: callData}, nil
}

// SignAsOwner obtains the owner's authorization over the built call. The
// signed message binds the token contract and the exact call data, so the
// relayer cannot redirect the transfer after this point.
func (b *GethBackend) SignAsOwner(ctx context.Context, call *UnsignedCall, owner SigningAuthority) (*SignedCall, error) {
	message := make([]byte, 0, len(call.Spec.Token)+len(call.CallData))
	message = append(message, call.Spec.Token.Bytes()...)
	message = append(message, call.CallData...)

	sig, err := owner.SignMessage(ctx, crypto.Keccak256(message))
	if err != nil {
		return nil, err
	}
	return &SignedCall{UnsignedCall: *call, OwnerSignature: sig}, nil
}

// Submit wraps execTransaction in a relayer-signed transaction and sends it.
func (b *GethBackend) Submit(ctx context.Context, call *SignedCall) (*Submission, error) {
	input, err := b.vaultABI.Pack("execTransaction", call.Spec.Token, big.NewInt(0), call.CallData, call.OwnerSignature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack execTransaction: %w", err)
	}

	eth := b.client.Backend()

	nonce, err := eth.PendingNonceAt(ctx, b.relayer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relayer nonce: %w", err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	vault := call.Spec.Vault
	gasLimit, err := eth.EstimateGas(ctx, ethereum.CallMsg{From: b.relayer, To: &vault, Data: input})
	if err != nil {
		log.Printf("level=warn component=relay_backend msg=\"gas estimation failed; using fallback limit\" vault=%s err=%v", vault.Hex(), err)
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTransaction(nonce, vault, big.NewInt(0), gasLimit, gasPrice, input)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.relayerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign relay transaction: %w", err)
	}

	if err := eth.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send relay transaction: %w", err)
	}

	return &Submission{
		TxHash: signedTx.Hash().Hex(),
		Wait: func(waitCtx context.Context) (string, error) {
			receipt, err := bind.WaitMined(waitCtx, eth, signedTx)
			if err != nil {
				return "", err
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				return "", fmt.Errorf("transaction %s reverted", receipt.TxHash.Hex())
			}
			return receipt.TxHash.Hex(), nil
		},
	}, nil
}
