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

// Eligibility is the gas allowance a user may currently allocate.
type Eligibility struct {
	Address        string `json:"address"`
	EligibleAmount string `json:"eligibleAmount"`
	IsEligible     bool   `json:"isEligible"`
}

// AllocationResult is returned by AllocateGas.
type AllocationResult struct {
	AllocationID string `json:"allocationId"`
	Amount       string `json:"amount"`
	TxHash       string `json:"txHash,omitempty"`
}

// RevertResult is returned by RevertGas. TxHash is only set when the
// reversal was submitted on chain.
type RevertResult struct {
	TxHash string `json:"txHash,omitempty"`
}

// Eligibility reports the on-chain eligible amount of address.
func (s *Service) Eligibility(ctx context.Context, address string) (Eligibility, error) {
	user, err := requireAddress(address)
	if err != nil {
		return Eligibility{}, err
	}
	amount, err := s.chain.Eligibility(ctx, user)
	if err != nil {
		return Eligibility{}, err
	}
	return Eligibility{Address: user, EligibleAmount: amount, IsEligible: units.IsPositive(amount)}, nil
}

// PoolBalance returns the gas pool balance as a decimal string.
func (s *Service) PoolBalance(ctx context.Context) (string, error) {
	return s.chain.PoolBalance(ctx)
}

// Allocations returns the locally recorded allocations of address.
func (s *Service) Allocations(address string) ([]ledger.GasAllocation, error) {
	if strings.TrimSpace(address) == "" {
		return nil, validationError("address is required")
	}
	return s.ledger.Allocations(address)
}

// AllocateGas allocates the user's eligible gas on chain and records the
// allocation. A zero eligibility is rejected before any chain write.
func (s *Service) AllocateGas(ctx context.Context, address string) (result AllocationResult, err error) {
	const op = "allocate_gas"
	defer func() { s.finish(op, err) }()

	user, err := requireAddress(address)
	if err != nil {
		return AllocationResult{}, err
	}
	unlock := s.locks.Lock("gas|" + ledger.NormalizeAddress(user))
	defer unlock()

	eligible, err := s.chain.Eligibility(ctx, user)
	if err != nil {
		s.logFailure(op, user, err)
		return AllocationResult{}, err
	}
	if !units.IsPositive(eligible) {
		return AllocationResult{}, fmt.Errorf("%w: complete quests to earn gas eligibility", ErrNotEligible)
	}
	alloc, err := s.chain.AllocateGas(ctx, user)
	if err != nil {
		s.logFailure(op, user, err)
		return AllocationResult{}, err
	}
	amount := alloc.Amount
	if amount == "" {
		amount = eligible
	}
	record := ledger.GasAllocation{
		AllocationID: alloc.ID,
		Amount:       amount,
		Timestamp:    s.now().UTC(),
		Status:       ledger.AllocationActive,
		TxHash:       alloc.TxHash,
	}
	if err := s.ledger.AddAllocation(user, record); err != nil {
		s.logFailure(op, user, fmt.Errorf("record allocation %s: %w", alloc.ID, err))
	}
	s.record(op, user, ledger.ActivityGasAllocated, fmt.Sprintf("Allocated %s MON gas", amount), map[string]any{
		"allocationId": alloc.ID,
		"amount":       amount,
	})
	return AllocationResult{AllocationID: alloc.ID, Amount: amount, TxHash: alloc.TxHash}, nil
}

// RevertGas marks an allocation reverted. Unknown allocation ids are accepted
// and only produce an activity entry. With on-chain reversion enabled a known
// active allocation is first reverted on chain.
func (s *Service) RevertGas(ctx context.Context, address, allocationID string) (result RevertResult, err error) {
	const op = "revert_gas"
	defer func() { s.finish(op, err) }()

	allocationID = strings.TrimSpace(allocationID)
	if allocationID == "" || strings.TrimSpace(address) == "" {
		return RevertResult{}, validationError("allocation id and user address are required")
	}
	user, err := requireAddress(address)
	if err != nil {
		return RevertResult{}, err
	}
	unlock := s.locks.Lock("gas|" + ledger.NormalizeAddress(user))
	defer unlock()

	existing, err := s.ledger.Allocation(user, allocationID)
	if err != nil {
		s.logFailure(op, user, err)
		return RevertResult{}, err
	}
	if existing != nil && existing.Status == ledger.AllocationReverted {
		return RevertResult{}, nil
	}
	if s.onchainRevert && existing != nil {
		txHash, err := s.chain.RevertGas(ctx, allocationID)
		if err != nil {
			s.logFailure(op, user, err)
			if errors.Is(err, chain.ErrInvalidRequestID) {
				return RevertResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
			}
			return RevertResult{}, err
		}
		result.TxHash = txHash
	}
	reverted := ledger.AllocationReverted
	if err := s.ledger.UpdateAllocation(user, allocationID, ledger.AllocationUpdate{Status: &reverted}); err != nil {
		s.logFailure(op, user, err)
		return RevertResult{}, err
	}
	metadata := map[string]any{"allocationId": allocationID}
	if result.TxHash != "" {
		metadata["txHash"] = result.TxHash
	}
	s.record(op, user, ledger.ActivityGasReverted, "Gas returned to pool", metadata)
	return result, nil
}
