package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"monspark/services/sparkd/chain"
	"monspark/services/sparkd/ledger"
	"monspark/units"
)

// EstimatedBridgeTime is reported to callers initiating a bridge.
const EstimatedBridgeTime = "2-5 minutes"

// BridgeQuote echoes the request alongside the simulated output.
type BridgeQuote struct {
	InputAmount  string `json:"inputAmount"`
	TargetToken  string `json:"targetToken"`
	OutputAmount string `json:"outputAmount"`
	Fee          string `json:"fee"`
}

// BridgeInitiation carries the fields of a bridge request.
type BridgeInitiation struct {
	UserAddress string `json:"userAddress"`
	Amount      string `json:"amount"`
	TargetChain string `json:"targetChain"`
	TargetToken string `json:"targetToken"`
}

// BridgeTicket is returned when a bridge request is accepted.
type BridgeTicket struct {
	RequestID     string `json:"requestId"`
	EstimatedTime string `json:"estimatedTime"`
}

// BridgeRecord is the result of a bridge lookup: the on-chain request when
// the chain knows it, otherwise the pending ledger transaction.
type BridgeRecord struct {
	OnChain *chain.BridgeRequest
	Local   *ledger.Transaction
	Owner   string
}

// Value returns whichever representation was found.
func (r BridgeRecord) Value() any {
	if r.OnChain != nil {
		return r.OnChain
	}
	return r.Local
}

// SupportedChain describes a bridge destination.
type SupportedChain struct {
	Name    string `json:"name"`
	ChainID uint64 `json:"chainId"`
	Icon    string `json:"icon"`
}

// SupportedToken describes a bridgeable token.
type SupportedToken struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// Catalog lists the supported bridge destinations.
type Catalog struct {
	Chains []SupportedChain `json:"chains"`
	Tokens []SupportedToken `json:"tokens"`
}

// Supported returns the static bridge catalog.
func Supported() Catalog {
	return Catalog{
		Chains: []SupportedChain{
			{Name: "Ethereum", ChainID: 1, Icon: "eth"},
			{Name: "Polygon", ChainID: 137, Icon: "matic"},
			{Name: "BSC", ChainID: 56, Icon: "bnb"},
			{Name: "Arbitrum", ChainID: 42161, Icon: "arb"},
			{Name: "Optimism", ChainID: 10, Icon: "op"},
		},
		Tokens: []SupportedToken{
			{Symbol: "ETH", Name: "Ethereum", Decimals: 18},
			{Symbol: "MATIC", Name: "Polygon", Decimals: 18},
			{Symbol: "BNB", Name: "BNB", Decimals: 18},
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6},
			{Symbol: "USDT", Name: "Tether", Decimals: 6},
		},
	}
}

// CalculateBridge simulates a bridge on chain. No local state is touched.
func (s *Service) CalculateBridge(ctx context.Context, inputAmount, targetToken string) (BridgeQuote, error) {
	inputAmount = strings.TrimSpace(inputAmount)
	targetToken = strings.TrimSpace(targetToken)
	if inputAmount == "" || targetToken == "" {
		return BridgeQuote{}, validationError("input amount and target token are required")
	}
	if _, err := units.ParseEther(inputAmount); err != nil {
		return BridgeQuote{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	quote, err := s.chain.CalculateBridgeOutput(ctx, inputAmount, targetToken)
	if err != nil {
		return BridgeQuote{}, err
	}
	return BridgeQuote{
		InputAmount:  inputAmount,
		TargetToken:  targetToken,
		OutputAmount: quote.OutputAmount,
		Fee:          quote.Fee,
	}, nil
}

// InitiateBridge records a pending bridge transaction for an external
// relayer to settle later.
func (s *Service) InitiateBridge(ctx context.Context, req BridgeInitiation) (ticket BridgeTicket, err error) {
	const op = "initiate_bridge"
	defer func() { s.finish(op, err) }()

	req.Amount = strings.TrimSpace(req.Amount)
	req.TargetChain = strings.TrimSpace(req.TargetChain)
	req.TargetToken = strings.TrimSpace(req.TargetToken)
	if strings.TrimSpace(req.UserAddress) == "" || req.Amount == "" || req.TargetChain == "" || req.TargetToken == "" {
		return BridgeTicket{}, validationError("user address, amount, target chain, and target token are required")
	}
	user, err := requireAddress(req.UserAddress)
	if err != nil {
		return BridgeTicket{}, err
	}
	if !units.IsPositive(req.Amount) {
		return BridgeTicket{}, validationError("amount must be a positive decimal")
	}
	if _, err := units.ParseEther(req.Amount); err != nil {
		return BridgeTicket{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	requestID := ledger.GenerateID()
	tx := ledger.Transaction{
		ID:        requestID,
		Type:      ledger.TxBridge,
		Amount:    req.Amount,
		To:        req.TargetChain + ":" + req.TargetToken,
		From:      user,
		Timestamp: s.now().UTC(),
		Status:    ledger.TxPending,
	}
	if err := s.ledger.AddTransaction(user, tx); err != nil {
		s.logFailure(op, user, err)
		return BridgeTicket{}, err
	}
	s.record(op, user, ledger.ActivityTransaction,
		fmt.Sprintf("Bridge initiated: %s MON → %s", req.Amount, req.TargetToken),
		map[string]any{
			"requestId":   requestID,
			"targetChain": req.TargetChain,
			"targetToken": req.TargetToken,
		})
	return BridgeTicket{RequestID: requestID, EstimatedTime: EstimatedBridgeTime}, nil
}

// CompleteBridge settles a bridge request on chain. The local pending
// transaction is left untouched; its status is reconciled elsewhere.
func (s *Service) CompleteBridge(ctx context.Context, requestID string) (txHash string, err error) {
	const op = "complete_bridge"
	defer func() { s.finish(op, err) }()

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return "", validationError("request id is required")
	}
	txHash, err = s.chain.CompleteBridge(ctx, requestID)
	if err != nil {
		s.logFailure(op, "", err)
		if errors.Is(err, chain.ErrInvalidRequestID) {
			return "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return "", err
	}
	return txHash, nil
}

// LookupBridge resolves a bridge request from the chain, falling back to the
// ledger for requests that only exist locally.
func (s *Service) LookupBridge(ctx context.Context, requestID string) (BridgeRecord, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return BridgeRecord{}, validationError("request id is required")
	}
	onchain, chainErr := s.chain.BridgeRequest(ctx, requestID)
	if chainErr == nil {
		return BridgeRecord{OnChain: &onchain}, nil
	}
	tx, owner, err := s.ledger.FindTransaction(requestID)
	if err == nil {
		return BridgeRecord{Local: tx, Owner: owner}, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return BridgeRecord{}, err
	}
	return BridgeRecord{}, fmt.Errorf("%w: bridge request %s: %v", ErrNotFound, requestID, chainErr)
}
