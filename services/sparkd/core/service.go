package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"monspark/observability"
	"monspark/services/sparkd/chain"
	"monspark/services/sparkd/ledger"
)

// Chain is the on-chain surface the service depends on. *chain.Gateway
// satisfies it.
type Chain interface {
	Quest(ctx context.Context, id uint64) (chain.Quest, error)
	Quests(ctx context.Context) ([]chain.Quest, error)
	HasCompletedQuest(ctx context.Context, user string, id uint64) (bool, error)
	VerifyAndCompleteQuest(ctx context.Context, user string, id uint64) (chain.QuestReceipt, error)
	UserProgress(ctx context.Context, user string) (chain.UserProgress, error)
	AllocateGas(ctx context.Context, user string) (chain.Allocation, error)
	RevertGas(ctx context.Context, allocationID string) (string, error)
	PoolBalance(ctx context.Context) (string, error)
	Eligibility(ctx context.Context, user string) (string, error)
	CalculateBridgeOutput(ctx context.Context, amount, targetToken string) (chain.BridgeQuote, error)
	BridgeRequest(ctx context.Context, requestID string) (chain.BridgeRequest, error)
	CompleteBridge(ctx context.Context, requestID string) (string, error)
}

// Ledger is the persistence surface the service depends on. *ledger.Store
// satisfies it.
type Ledger interface {
	GetUser(address string) (*ledger.UserRecord, error)
	MarkQuestCompleted(address string, questID uint64) error
	AddTransaction(address string, tx ledger.Transaction) error
	AddAllocation(address string, allocation ledger.GasAllocation) error
	UpdateAllocation(address, allocationID string, update ledger.AllocationUpdate) error
	Allocation(address, allocationID string) (*ledger.GasAllocation, error)
	Allocations(address string) ([]ledger.GasAllocation, error)
	FindTransaction(id string) (*ledger.Transaction, string, error)
}

// Recorder appends to and reads the activity feed. *activity.Recorder
// satisfies it.
type Recorder interface {
	Record(user string, kind ledger.ActivityType, description string, metadata map[string]any) (ledger.Activity, error)
	Global(limit int) ([]ledger.Activity, error)
	ForUser(address string, limit int) ([]ledger.Activity, error)
}

// Service coordinates the chain gateway, the ledger and the activity feed.
// Ledger mutations always happen strictly after the corresponding chain
// write has been confirmed.
type Service struct {
	chain    Chain
	ledger   Ledger
	recorder Recorder
	logger   *slog.Logger
	metrics  *observability.SparkdMetrics
	now      func() time.Time

	onchainRevert bool
	locks         *ledger.KeyLock
}

// Option customises the service.
type Option func(*Service)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches the metrics registry.
func WithMetrics(metrics *observability.SparkdMetrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithOnchainRevert submits RevertGas on chain before marking a known active
// allocation reverted.
func WithOnchainRevert(enabled bool) Option {
	return func(s *Service) { s.onchainRevert = enabled }
}

// New constructs the service.
func New(gateway Chain, store Ledger, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		chain:    gateway,
		ledger:   store,
		recorder: recorder,
		logger:   slog.Default(),
		now:      time.Now,
		locks:    ledger.NewKeyLock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activities returns up to limit entries of the global feed, newest first.
func (s *Service) Activities(limit int) ([]ledger.Activity, error) {
	return s.recorder.Global(limit)
}

// UserActivities returns up to limit feed entries of address.
func (s *Service) UserActivities(address string, limit int) ([]ledger.Activity, error) {
	if strings.TrimSpace(address) == "" {
		return nil, validationError("address is required")
	}
	return s.recorder.ForUser(address, limit)
}

func (s *Service) record(op, user string, kind ledger.ActivityType, description string, metadata map[string]any) {
	if _, err := s.recorder.Record(user, kind, description, metadata); err != nil {
		s.logFailure(op, user, err)
		s.metrics.RecordOperation(op, "activity_error")
		return
	}
	s.metrics.RecordActivity(string(kind))
}

func (s *Service) logFailure(op, address string, err error) {
	s.logger.Error("sparkd operation failed",
		slog.String("component", "core"),
		slog.String("op", op),
		slog.String("address", address),
		slog.Any("error", err))
}

func (s *Service) finish(op string, err error) {
	if err == nil {
		s.metrics.RecordOperation(op, "")
		return
	}
	s.metrics.RecordOperation(op, reason(err))
}

func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, chain.ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrCompletionFailed), errors.Is(err, chain.ErrWriteFailed):
		return "chain_write"
	default:
		return "error"
	}
}

func requireAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", validationError("user address is required")
	}
	if !common.IsHexAddress(trimmed) {
		return "", validationError("invalid address %q", trimmed)
	}
	return trimmed, nil
}
