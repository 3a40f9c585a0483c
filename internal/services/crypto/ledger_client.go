package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/eduvault/backend/internal/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainBackend is the subset of ethclient.Client the ledger client needs
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ChainConfig holds the connection and signing settings for the ledger chain
type ChainConfig struct {
	RPCURL          string
	ChainID         int64
	RegistryAddress string
	SignerKey       string
}

// ChainLedgerClient writes ledger entries as transactions to a registry
// address. The entry payload travels as calldata.
type ChainLedgerClient struct {
	backend  ChainBackend
	chainID  *big.Int
	registry common.Address
	key      *ecdsa.PrivateKey
	from     common.Address

	// serialises nonce allocation for the single signer
	mu sync.Mutex
}

// NewChainLedgerClient dials the RPC endpoint and loads the signer key
func NewChainLedgerClient(cfg ChainConfig) (*ChainLedgerClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger chain: %w", err)
	}
	return NewChainLedgerClientWithBackend(client, cfg.ChainID, cfg.RegistryAddress, cfg.SignerKey)
}

// NewChainLedgerClientWithBackend builds a client over an existing backend
func NewChainLedgerClientWithBackend(backend ChainBackend, chainID int64, registryAddress, signerKey string) (*ChainLedgerClient, error) {
	if !common.IsHexAddress(registryAddress) {
		return nil, fmt.Errorf("invalid registry address %q", registryAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}

	return &ChainLedgerClient{
		backend:  backend,
		chainID:  big.NewInt(chainID),
		registry: common.HexToAddress(registryAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Submit signs and broadcasts entry, returning the transaction hash
func (c *ChainLedgerClient) Submit(ctx context.Context, entry models.LedgerEntry) (string, error) {
	data, err := entry.Payload()
	if err != nil {
		return "", fmt.Errorf("failed to encode ledger entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.registry,
		Data: data,
	})
	if err != nil {
		gasLimit = intrinsicGas(data)
	}

	tx := types.NewTransaction(nonce, c.registry, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// intrinsicGas is the gas a plain data transaction needs, plus headroom
func intrinsicGas(data []byte) uint64 {
	gas := uint64(21000)
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas + gas/10
}

// PlaceholderReference derives the reference issued when no ledger is
// configured. It is deterministic in actionKey and at.
func PlaceholderReference(actionKey string, at time.Time) string {
	digest := crypto.Keccak256Hash([]byte(actionKey + "|" + at.UTC().Format(time.RFC3339Nano)))
	return "mock_" + strings.TrimPrefix(digest.Hex(), "0x")
}

// IsChainReference reports whether ref looks like a transaction hash
func IsChainReference(ref string) bool {
	return strings.HasPrefix(ref, "0x") && len(ref) == 66
}
