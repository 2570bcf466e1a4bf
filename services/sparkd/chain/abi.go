package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const gasManagerABI = `[
  {"type":"function","name":"allocateGas","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"revertGas","stateMutability":"nonpayable","inputs":[{"name":"allocationId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getAllocation","stateMutability":"view","inputs":[{"name":"allocationId","type":"bytes32"}],"outputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"timestamp","type":"uint256"},{"name":"isActive","type":"bool"}]},
  {"type":"function","name":"userEligibleAmount","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"poolBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"GasAllocated","anonymous":false,"inputs":[{"name":"allocationId","type":"bytes32","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"GasReverted","anonymous":false,"inputs":[{"name":"allocationId","type":"bytes32","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"successful","type":"bool","indexed":false}]}
]`

const questHubABI = `[
  {"type":"function","name":"verifyAndCompleteQuest","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"questId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getUserProgress","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"totalXP","type":"uint256"},{"name":"completedQuests","type":"uint256"},{"name":"level","type":"uint256"},{"name":"xpToNextLevel","type":"uint256"}]},
  {"type":"function","name":"hasCompletedQuest","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"questId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getQuest","stateMutability":"view","inputs":[{"name":"questId","type":"uint256"}],"outputs":[{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"xpReward","type":"uint256"},{"name":"gasReward","type":"uint256"},{"name":"isActive","type":"bool"},{"name":"completionCount","type":"uint256"}]},
  {"type":"function","name":"getTotalQuests","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"QuestCompleted","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"questId","type":"uint256","indexed":true},{"name":"xpEarned","type":"uint256","indexed":false},{"name":"gasEligibilityEarned","type":"uint256","indexed":false}]},
  {"type":"event","name":"LevelUp","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"newLevel","type":"uint256","indexed":false},{"name":"totalXP","type":"uint256","indexed":false}]}
]`

const bridgeManagerABI = `[
  {"type":"function","name":"completeBridge","stateMutability":"nonpayable","inputs":[{"name":"requestId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getBridgeRequest","stateMutability":"view","inputs":[{"name":"requestId","type":"bytes32"}],"outputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"targetChain","type":"string"},{"name":"targetToken","type":"string"},{"name":"timestamp","type":"uint256"},{"name":"isCompleted","type":"bool"}]},
  {"type":"function","name":"calculateBridgeOutput","stateMutability":"view","inputs":[{"name":"inputAmount","type":"uint256"},{"name":"targetToken","type":"string"}],"outputs":[{"name":"outputAmount","type":"uint256"},{"name":"fee","type":"uint256"}]},
  {"type":"event","name":"BridgeInitiated","anonymous":false,"inputs":[{"name":"requestId","type":"bytes32","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"targetChain","type":"string","indexed":false},{"name":"targetToken","type":"string","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"BridgeCompleted","anonymous":false,"inputs":[{"name":"requestId","type":"bytes32","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"outputAmount","type":"uint256","indexed":false},{"name":"success","type":"bool","indexed":false}]}
]`

// Contract ABIs, parsed once at package initialisation.
var (
	GasManagerABI    = mustParseABI("GasManager", gasManagerABI)
	QuestHubABI      = mustParseABI("QuestHub", questHubABI)
	BridgeManagerABI = mustParseABI("BridgeManager", bridgeManagerABI)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse %s abi: %v", name, err))
	}
	return parsed
}
