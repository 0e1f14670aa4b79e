/**
 * @description
 * This package provides the JSON-RPC chain client used by the relay service.
 * It encapsulates balance reads against ERC-20 token contracts and the
 * canonical call-data encodings the rest of the service signs and submits.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: ethclient, ABI encoding, core types.
 */
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20JSON = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var erc20 = mustParseABI(erc20JSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chainclient: invalid embedded ABI: %v", err))
	}
	return parsed
}

// PackTransfer returns the canonical ERC-20 transfer(recipient, amount) call
// data. This is the exact byte payload a session key signs: the signature
// binds to what is executed, not to the raw recipient/amount tuple.
func PackTransfer(recipient common.Address, amount *big.Int) ([]byte, error) {
	return erc20.Pack("transfer", recipient, amount)
}

// PackBalanceOf returns the balanceOf(owner) call data.
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return erc20.Pack("balanceOf", owner)
}

// Client wraps an ethclient connection to a JSON-RPC node.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc node: %w", err)
	}
	return &Client{eth: eth}, nil
}

// NewClient wraps an existing ethclient connection.
func NewClient(eth *ethclient.Client) *Client {
	return &Client{eth: eth}
}

// Backend exposes the underlying ethclient for components that submit
// transactions or wait on receipts.
func (c *Client) Backend() *ethclient.Client {
	return c.eth
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// GetTokenBalance reads the current ERC-20 balance of account on token via
// eth_call. Both addresses arrive as hex strings; the caller is responsible
// for having validated them.
func (c *Client) GetTokenBalance(ctx context.Context, account, token string) (*big.Int, error) {
	data, err := PackBalanceOf(common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	tokenAddr := common.HexToAddress(token)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	results, err := erc20.Unpack("balanceOf", out)
	if err != nil || len(results) != 1 {
		return nil, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type: %T", results[0])
	}
	return balance, nil
}
