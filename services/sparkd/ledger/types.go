package ledger

import (
	"strings"
	"time"
)

// TxType enumerates the kinds of ledger transactions.
type TxType string

const (
	TxTip      TxType = "tip"
	TxDonation TxType = "donation"
	TxTransfer TxType = "transfer"
	TxBridge   TxType = "bridge"
)

// TxStatus tracks the settlement of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TxStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed
}

// AllocationStatus tracks a gas credit allocation.
type AllocationStatus string

const (
	AllocationActive   AllocationStatus = "active"
	AllocationReverted AllocationStatus = "reverted"
)

// ActivityType classifies feed entries.
type ActivityType string

const (
	ActivityQuestCompleted ActivityType = "quest_completed"
	ActivityGasAllocated   ActivityType = "gas_allocated"
	ActivityGasReverted    ActivityType = "gas_reverted"
	ActivityTransaction    ActivityType = "transaction"
	ActivityLevelUp        ActivityType = "level_up"
)

// Transaction is a per-user value movement recorded by the backend.
type Transaction struct {
	ID        string    `json:"id"`
	Type      TxType    `json:"type"`
	Amount    string    `json:"amount"`
	To        string    `json:"to,omitempty"`
	From      string    `json:"from,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Status    TxStatus  `json:"status"`
	TxHash    string    `json:"txHash,omitempty"`
}

// TransactionUpdate carries the mutable fields of a Transaction. Nil fields
// are left untouched.
type TransactionUpdate struct {
	Status *TxStatus
	TxHash *string
}

// GasAllocation mirrors an on-chain gas credit allocation.
type GasAllocation struct {
	AllocationID string           `json:"allocationId"`
	Amount       string           `json:"amount"`
	Timestamp    time.Time        `json:"timestamp"`
	Status       AllocationStatus `json:"status"`
	TxHash       string           `json:"txHash,omitempty"`
}

// AllocationUpdate carries the mutable fields of a GasAllocation.
type AllocationUpdate struct {
	Status *AllocationStatus
	TxHash *string
}

// Activity is an immutable entry of the global feed.
type Activity struct {
	ID          string         `json:"id"`
	UserAddress string         `json:"userAddress"`
	Type        ActivityType   `json:"type"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UserRecord aggregates everything the backend knows about one wallet.
type UserRecord struct {
	Address       string          `json:"address"`
	QuestProgress map[uint64]bool `json:"questProgress"`
	Transactions  []Transaction   `json:"transactions"`
	Allocations   []GasAllocation `json:"allocations"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastActive    time.Time       `json:"lastActive"`
}

func newRecord(address string, now time.Time) *UserRecord {
	return &UserRecord{
		Address:       address,
		QuestProgress: map[uint64]bool{},
		Transactions:  []Transaction{},
		Allocations:   []GasAllocation{},
		CreatedAt:     now,
		LastActive:    now,
	}
}

func (r *UserRecord) ensureCollections() {
	if r.QuestProgress == nil {
		r.QuestProgress = map[uint64]bool{}
	}
	if r.Transactions == nil {
		r.Transactions = []Transaction{}
	}
	if r.Allocations == nil {
		r.Allocations = []GasAllocation{}
	}
}

// NormalizeAddress canonicalises a wallet address to its lower-case form.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
