// Package ledger anchors evidence digests on an EVM chain.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	ChainIDAmoy    = 80002
	ChainIDPolygon = 137
)

// Config describes the anchoring identity and network. An empty PrivateKey
// leaves anchoring unconfigured.
type Config struct {
	RPCURL              string        `json:"rpc_url"`
	PrivateKey          string        `json:"private_key"`
	RegistryAddress     string        `json:"registry_address"`
	ChainID             int64         `json:"chain_id"` // optional; checked against the node
	ConfirmationTimeout time.Duration `json:"confirmation_timeout"`
	PollInterval        time.Duration `json:"poll_interval"`
	FallbackGasLimit    uint64        `json:"fallback_gas_limit"`
	GasBufferPercent    uint64        `json:"gas_buffer_percent"`
}

// WithDefaults fills unset tuning values.
func (c Config) WithDefaults() Config {
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.FallbackGasLimit == 0 {
		c.FallbackGasLimit = 100000
	}
	if c.GasBufferPercent == 0 {
		c.GasBufferPercent = 20
	}
	return c
}

// Client is the subset of the JSON-RPC API the anchorer uses.
// *ethclient.Client satisfies it.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Client = (*ethclient.Client)(nil)

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger rpc: %w", err)
	}
	return client, nil
}

// ExplorerURL links a transaction on the block explorer for chainID.
func ExplorerURL(chainID int64, txHash string) string {
	base := "https://polygonscan.com"
	if chainID == ChainIDAmoy {
		base = "https://amoy.polygonscan.com"
	}
	return base + "/tx/" + txHash
}
