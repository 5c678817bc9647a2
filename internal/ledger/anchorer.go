package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
)

const (
	MethodContract = "contract"
	MethodSelfTx   = "self_transaction"

	// ReportType tags fallback transaction payloads.
	ReportType = "MRV_REPORT"
)

const registryABI = `[{"inputs":[{"internalType":"string","name":"projectId","type":"string"},{"internalType":"string","name":"dataHash","type":"string"},{"internalType":"string","name":"metadata","type":"string"}],"name":"storeHash","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// AnchorResult is a confirmed anchoring transaction.
type AnchorResult struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Success     bool   `json:"success"`
	ExplorerURL string `json:"explorer_url"`
	Method      string `json:"method"`
}

// Health is a point-in-time view of the ledger connection.
type Health struct {
	ChainID     int64  `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	Address     string `json:"address,omitempty"`
	Configured  bool   `json:"configured"`
}

// Payload is the data carried by a fallback self-transaction.
type Payload struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	Digest    string          `json:"digest"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Anchorer submits evidence digests to the ledger, through the registry
// contract when one is configured and as a self-transaction otherwise.
type Anchorer struct {
	client   Client
	key      *ecdsa.PrivateKey
	from     common.Address
	registry *common.Address
	abi      abi.ABI
	nonces   *NonceAllocator
	cfg      Config
	logger   *zap.Logger

	chainMu sync.Mutex
	chainID *big.Int
}

// ErrChainMismatch means the node serves a different chain than configured.
var ErrChainMismatch = errors.New("ledger chain id mismatch")

// NewAnchorer builds an anchorer. Without a private key or client it is
// returned unconfigured; a malformed key or registry address is an error.
func NewAnchorer(client Client, cfg Config, logger *zap.Logger) (*Anchorer, error) {
	cfg = cfg.WithDefaults()
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry abi: %w", err)
	}
	a := &Anchorer{client: client, abi: parsed, cfg: cfg, logger: logger}

	if cfg.PrivateKey == "" || client == nil {
		return a, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}
	a.key = key
	a.from = crypto.PubkeyToAddress(key.PublicKey)
	a.nonces = NewNonceAllocator(client, a.from)

	if cfg.RegistryAddress != "" {
		if !common.IsHexAddress(cfg.RegistryAddress) {
			return nil, fmt.Errorf("invalid registry address %q", cfg.RegistryAddress)
		}
		registry := common.HexToAddress(cfg.RegistryAddress)
		a.registry = &registry
	}
	return a, nil
}

// Configured reports whether an anchoring identity is available.
func (a *Anchorer) Configured() bool {
	return a != nil && a.key != nil
}

// Address is the signing account, or empty when unconfigured.
func (a *Anchorer) Address() string {
	if !a.Configured() {
		return ""
	}
	return a.from.Hex()
}

// Anchor records digest on the ledger and blocks until the transaction is
// mined or the confirmation timeout elapses. Errors are ErrNotConfigured,
// ErrEncoding or an *apperrors.AnchorFailure.
func (a *Anchorer) Anchor(ctx context.Context, projectID, digest string, metadata map[string]any) (*AnchorResult, error) {
	if !a.Configured() {
		return nil, apperrors.ErrNotConfigured
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", apperrors.ErrEncoding, err)
	}

	chainID, err := a.chain(ctx)
	if err != nil {
		reason := "chain id unavailable"
		if errors.Is(err, ErrChainMismatch) {
			reason = "chain id mismatch"
		}
		return nil, &apperrors.AnchorFailure{Reason: reason, Err: err}
	}

	method := MethodSelfTx
	if a.registry != nil {
		method = MethodContract
	}

	var signed *types.Transaction
	err = a.nonces.WithNonce(ctx, func(nonce uint64) error {
		gasPrice, err := a.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch gas price: %w", err)
		}

		var tx *types.Transaction
		if a.registry != nil {
			tx, err = a.contractTx(ctx, nonce, gasPrice, projectID, digest, metaJSON)
		} else {
			tx, err = a.selfTx(nonce, gasPrice, projectID, digest, metaJSON)
		}
		if err != nil {
			return err
		}

		signed, err = types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
		if err != nil {
			return fmt.Errorf("failed to sign transaction: %w", err)
		}
		return a.client.SendTransaction(ctx, signed)
	})
	if err != nil {
		return nil, &apperrors.AnchorFailure{Reason: "submission failed", Err: err}
	}

	txHash := signed.Hash().Hex()
	a.logger.Info("Anchor transaction submitted",
		zap.String("project_id", projectID),
		zap.String("digest", digest),
		zap.String("tx_hash", txHash),
		zap.Uint64("nonce", signed.Nonce()),
		zap.String("method", method))

	receipt, err := a.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		reason := "confirmation aborted"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "confirmation timeout"
		}
		return nil, &apperrors.AnchorFailure{Reason: reason, TxRef: txHash, Err: err}
	}

	return &AnchorResult{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		ExplorerURL: ExplorerURL(chainID.Int64(), txHash),
		Method:      method,
	}, nil
}

func (a *Anchorer) contractTx(ctx context.Context, nonce uint64, gasPrice *big.Int, projectID, digest string, metaJSON []byte) (*types.Transaction, error) {
	data, err := a.abi.Pack("storeHash", projectID, digest, string(metaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to pack storeHash call: %w", err)
	}
	estimate, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     a.from,
		To:       a.registry,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas := estimate * (100 + a.cfg.GasBufferPercent) / 100

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       a.registry,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

func (a *Anchorer) selfTx(nonce uint64, gasPrice *big.Int, projectID, digest string, metaJSON []byte) (*types.Transaction, error) {
	data, err := json.Marshal(Payload{
		Type:      ReportType,
		ProjectID: projectID,
		Digest:    digest,
		Metadata:  metaJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode report payload: %w", err)
	}
	to := a.from
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      a.cfg.FallbackGasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

func (a *Anchorer) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			a.logger.Debug("Receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// chain asks the node for its chain id once. A configured id is only an
// expectation and must agree with the node.
func (a *Anchorer) chain(ctx context.Context) (*big.Int, error) {
	a.chainMu.Lock()
	defer a.chainMu.Unlock()
	if a.chainID != nil {
		return a.chainID, nil
	}
	id, err := a.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.ChainID > 0 && id.Int64() != a.cfg.ChainID {
		return nil, fmt.Errorf("%w: configured %d, node reports %s", ErrChainMismatch, a.cfg.ChainID, id)
	}
	a.chainID = id
	return id, nil
}

// Health queries the chain id and latest block.
func (a *Anchorer) Health(ctx context.Context) (*Health, error) {
	if a == nil || a.client == nil {
		return nil, apperrors.ErrNotConfigured
	}
	id, err := a.chain(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	block, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block number: %w", err)
	}
	return &Health{
		ChainID:     id.Int64(),
		BlockNumber: block,
		Address:     a.Address(),
		Configured:  a.Configured(),
	}, nil
}
