package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"monspark/services/sparkd/chain"
	"monspark/services/sparkd/ledger"
)

// QuestCompletion is the outcome of a successful quest completion.
type QuestCompletion struct {
	TxHash       string              `json:"txHash"`
	Quest        chain.Quest         `json:"quest"`
	UserProgress *chain.UserProgress `json:"userProgress"`
	LevelUp      *chain.LevelUp      `json:"levelUp,omitempty"`
}

// Progress merges the on-chain progress with the local completion flags.
type Progress struct {
	chain.UserProgress
	QuestsCompleted map[uint64]bool `json:"questsCompleted"`
}

// Quests lists every quest. When address is set each quest carries the
// user's on-chain completion flag.
func (s *Service) Quests(ctx context.Context, address string) ([]chain.Quest, error) {
	user, err := optionalAddress(address)
	if err != nil {
		return nil, err
	}
	quests, err := s.chain.Quests(ctx)
	if err != nil {
		return nil, err
	}
	if user == "" {
		return quests, nil
	}
	for i := range quests {
		done, err := s.chain.HasCompletedQuest(ctx, user, quests[i].ID)
		if err != nil {
			return nil, fmt.Errorf("quest %d completion: %w", quests[i].ID, err)
		}
		quests[i].Completed = &done
	}
	return quests, nil
}

// Quest returns one quest, optionally resolved for address.
func (s *Service) Quest(ctx context.Context, id uint64, address string) (chain.Quest, error) {
	if id == 0 {
		return chain.Quest{}, validationError("quest id must be positive")
	}
	user, err := optionalAddress(address)
	if err != nil {
		return chain.Quest{}, err
	}
	quest, err := s.chain.Quest(ctx, id)
	if err != nil {
		return chain.Quest{}, err
	}
	if user != "" {
		done, err := s.chain.HasCompletedQuest(ctx, user, id)
		if err != nil {
			return chain.Quest{}, err
		}
		quest.Completed = &done
	}
	return quest, nil
}

// CompleteQuest completes quest id for user on chain and records it locally.
// Completions of the same (user, quest) pair are serialised; the chain stays
// the arbiter of whether a completion happened.
func (s *Service) CompleteQuest(ctx context.Context, user string, id uint64) (result QuestCompletion, err error) {
	const op = "complete_quest"
	defer func() { s.finish(op, err) }()

	user, err = requireAddress(user)
	if err != nil {
		return QuestCompletion{}, err
	}
	if id == 0 {
		return QuestCompletion{}, validationError("quest id must be positive")
	}
	unlock := s.locks.Lock("quest|" + ledger.NormalizeAddress(user) + "|" + strconv.FormatUint(id, 10))
	defer unlock()

	done, err := s.chain.HasCompletedQuest(ctx, user, id)
	if err != nil {
		s.logFailure(op, user, err)
		return QuestCompletion{}, err
	}
	if done {
		return QuestCompletion{}, ErrAlreadyCompleted
	}
	receipt, err := s.chain.VerifyAndCompleteQuest(ctx, user, id)
	if err != nil {
		s.logFailure(op, user, err)
		return QuestCompletion{}, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}
	result = QuestCompletion{TxHash: receipt.TxHash, LevelUp: receipt.LevelUp}

	if err := s.ledger.MarkQuestCompleted(user, id); err != nil {
		s.logFailure(op, user, fmt.Errorf("mark quest %d completed: %w", id, err))
	}

	quest, err := s.chain.Quest(ctx, id)
	if err != nil {
		s.logger.Warn("quest lookup after completion failed",
			slog.String("component", "core"),
			slog.Uint64("quest", id),
			slog.Any("error", err))
		quest = chain.Quest{ID: id, Name: fmt.Sprintf("#%d", id), XPReward: receipt.XPEarned}
	}
	completed := true
	quest.Completed = &completed
	result.Quest = quest

	xp := quest.XPReward
	if receipt.XPEarned != "" {
		xp = receipt.XPEarned
	}
	s.record(op, user, ledger.ActivityQuestCompleted, "Completed quest: "+quest.Name, map[string]any{
		"questId":  id,
		"xpEarned": xp,
		"txHash":   receipt.TxHash,
	})
	if receipt.LevelUp != nil {
		s.record(op, user, ledger.ActivityLevelUp, "Reached level "+receipt.LevelUp.NewLevel, map[string]any{
			"level":   receipt.LevelUp.NewLevel,
			"totalXP": receipt.LevelUp.TotalXP,
		})
	}

	progress, err := s.chain.UserProgress(ctx, user)
	if err != nil {
		s.logger.Warn("progress lookup after completion failed",
			slog.String("component", "core"),
			slog.String("address", user),
			slog.Any("error", err))
		return result, nil
	}
	result.UserProgress = &progress
	return result, nil
}

// Progress returns the on-chain progress of address together with the local
// completion flags.
func (s *Service) Progress(ctx context.Context, address string) (Progress, error) {
	user, err := requireAddress(address)
	if err != nil {
		return Progress{}, err
	}
	onchain, err := s.chain.UserProgress(ctx, user)
	if err != nil {
		return Progress{}, err
	}
	progress := Progress{UserProgress: onchain, QuestsCompleted: map[uint64]bool{}}
	rec, err := s.ledger.GetUser(user)
	if err != nil {
		return Progress{}, err
	}
	if rec != nil {
		for id, done := range rec.QuestProgress {
			progress.QuestsCompleted[id] = done
		}
	}
	return progress, nil
}

func optionalAddress(address string) (string, error) {
	if address == "" {
		return "", nil
	}
	return requireAddress(address)
}
