package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// transactor signs and submits contract writes for a single account. Nonce
// assignment and broadcast are serialised; receipt polling is not.
type transactor struct {
	mu            sync.Mutex
	backend       Backend
	key           *ecdsa.PrivateKey
	from          common.Address
	chainID       *big.Int
	confirmations uint64
	pollInterval  time.Duration
	writeTimeout  time.Duration
}

func newTransactor(backend Backend, hexKey string, cfg Config) (*transactor, error) {
	key, err := gethcrypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &transactor{
		backend:       backend,
		key:           key,
		from:          gethcrypto.PubkeyToAddress(key.PublicKey),
		confirmations: cfg.Confirmations,
		pollInterval:  cfg.PollInterval,
		writeTimeout:  cfg.WriteTimeout,
	}, nil
}

func (t *transactor) transact(ctx context.Context, to common.Address, data []byte) (*gethtypes.Receipt, error) {
	if t.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.writeTimeout)
		defer cancel()
	}
	signed, err := t.submit(ctx, to, data)
	if err != nil {
		return nil, err
	}
	return t.waitMined(ctx, signed.Hash())
}

func (t *transactor) submit(ctx context.Context, to common.Address, data []byte) (*gethtypes.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.chainID == nil {
		id, err := t.backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
		t.chainID = id
	}
	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	head, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	var inner gethtypes.TxData
	if head != nil && head.BaseFee != nil {
		tip, err := t.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest tip: %w", err)
		}
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		inner = &gethtypes.DynamicFeeTx{
			ChainID:   t.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     new(big.Int),
			Data:      data,
		}
	} else {
		price, err := t.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		inner = &gethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    new(big.Int),
			Data:     data,
		}
	}
	signed, err := gethtypes.SignTx(gethtypes.NewTx(inner), gethtypes.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return signed, nil
}

func (t *transactor) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	interval := t.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			ok, err := t.confirmed(ctx, receipt)
			if err != nil {
				return nil, err
			}
			if ok {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *transactor) confirmed(ctx context.Context, receipt *gethtypes.Receipt) (bool, error) {
	if t.confirmations <= 1 {
		return true, nil
	}
	header, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return false, fmt.Errorf("block metadata unavailable")
	}
	depth := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	return depth.Cmp(new(big.Int).SetUint64(t.confirmations)) >= 0, nil
}
