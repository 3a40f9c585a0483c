package crypto

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// TransactionDetails represents details of a ledger transaction
type TransactionDetails struct {
	Hash        string
	BlockNumber uint64
	BlockHash   string
	GasUsed     uint64
	Pending     bool
	Success     bool
}

// GetTransactionDetails reports whether a ledger write has been mined
func (c *ChainLedgerClient) GetTransactionDetails(ctx context.Context, txHash string) (*TransactionDetails, error) {
	hash := common.HexToHash(txHash)

	_, isPending, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if isPending {
		return &TransactionDetails{Hash: txHash, Pending: true}, nil
	}

	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return &TransactionDetails{Hash: txHash, Pending: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	// status 1 means success, 0 means the call reverted
	return &TransactionDetails{
		Hash:        txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		BlockHash:   receipt.BlockHash.Hex(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == 1,
	}, nil
}

// Committed reports whether txHash is mined successfully or still waiting in
// the pool. A reverted transaction is not committed.
func (c *ChainLedgerClient) Committed(ctx context.Context, txHash string) (bool, error) {
	details, err := c.GetTransactionDetails(ctx, txHash)
	if err != nil {
		return false, err
	}
	return details.Pending || details.Success, nil
}
