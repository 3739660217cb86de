package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// gasLimitHeadroom pads the node's gas estimate; settlements touch several
// pools and estimates drift between simulation and inclusion.
const gasLimitHeadroom = 12_000

// ChainBackend is the slice of the RPC client the signer needs. Satisfied by
// *ethclient.Client.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer signs and submits transactions from the bot's hot account. Nonce
// assignment is serialized so concurrent settlements for different pairs do
// not race the same nonce.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	backend    ChainBackend

	mu sync.Mutex
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int64, backend ChainBackend) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
		backend:    backend,
	}, nil
}

// Address returns the account the signer submits from.
func (s *Signer) Address() common.Address {
	return s.address
}

// Send signs calldata targeting the given contract and submits it, returning
// the transaction hash. The deadline bounds receipt polling; a transaction
// unconfirmed by then returns context.DeadlineExceeded with the hash still
// usable for later inspection.
func (s *Signer) Send(ctx context.Context, to common.Address, calldata []byte, deadline time.Time) (string, error) {
	s.mu.Lock()
	tx, err := s.buildAndSubmit(ctx, to, calldata)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	hash := tx.Hash()
	if deadline.IsZero() {
		return hash.Hex(), nil
	}

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := s.waitMined(waitCtx, hash); err != nil {
		return hash.Hex(), err
	}
	return hash.Hex(), nil
}

func (s *Signer) buildAndSubmit(ctx context.Context, to common.Address, calldata []byte) (*types.Transaction, error) {
	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, fmt.Errorf("wallet: fetching nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet: fetching gas price: %w", err)
	}
	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: calldata,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet: estimating gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit + gasLimitHeadroom,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: signing transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("wallet: submitting transaction: %w", err)
	}
	return signed, nil
}

// waitMined polls for the transaction receipt until the context expires.
func (s *Signer) waitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("wallet: transaction %s reverted", hash.Hex())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
