package chain

import "time"

// Quest mirrors the on-chain quest definition. Completed is only set when the
// quest was resolved for a specific user.
type Quest struct {
	ID              uint64 `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	XPReward        string `json:"xpReward"`
	GasReward       string `json:"gasReward"`
	IsActive        bool   `json:"isActive"`
	CompletionCount string `json:"completionCount"`
	Completed       *bool  `json:"completed,omitempty"`
}

// UserProgress mirrors QuestHub.getUserProgress.
type UserProgress struct {
	TotalXP         string `json:"totalXP"`
	CompletedQuests string `json:"completedQuests"`
	Level           string `json:"level"`
	XPToNextLevel   string `json:"xpToNextLevel"`
}

// LevelUp is decoded from the LevelUp event emitted alongside a completion.
type LevelUp struct {
	NewLevel string `json:"newLevel"`
	TotalXP  string `json:"totalXP"`
}

// QuestReceipt is the outcome of a confirmed quest completion.
type QuestReceipt struct {
	TxHash    string   `json:"txHash"`
	XPEarned  string   `json:"xpEarned,omitempty"`
	GasEarned string   `json:"gasEarned,omitempty"`
	LevelUp   *LevelUp `json:"levelUp,omitempty"`
}

// Allocation is decoded from the GasAllocated event.
type Allocation struct {
	ID        string    `json:"allocationId"`
	User      string    `json:"user"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	TxHash    string    `json:"txHash"`
}

// BridgeQuote is the result of the bridge output simulation.
type BridgeQuote struct {
	OutputAmount string `json:"outputAmount"`
	Fee          string `json:"fee"`
}

// BridgeRequest mirrors BridgeManager.getBridgeRequest.
type BridgeRequest struct {
	User        string `json:"user"`
	Amount      string `json:"amount"`
	TargetChain string `json:"targetChain"`
	TargetToken string `json:"targetToken"`
	Timestamp   string `json:"timestamp"`
	IsCompleted bool   `json:"isCompleted"`
}
