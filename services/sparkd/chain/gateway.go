package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"monspark/observability"
	"monspark/units"
)

// Backend defines the subset of the Ethereum RPC used by the gateway.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config captures the connection and contract settings consumed at startup.
type Config struct {
	RPCURL        string
	SignerKey     string
	GasManager    string
	QuestHub      string
	BridgeManager string
	Confirmations uint64
	PollInterval  time.Duration
	CallTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Gateway proxies the QuestHub, GasManager and BridgeManager contracts.
// Reads return decoded values; writes block until the transaction is
// confirmed and decode the emitted events.
type Gateway struct {
	backend       Backend
	closer        func()
	signer        *transactor
	gasManager    common.Address
	questHub      common.Address
	bridgeManager common.Address
	callTimeout   time.Duration
	logger        *slog.Logger
	metrics       *observability.SparkdMetrics
}

// Option customises the gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics attaches the metrics registry.
func WithMetrics(metrics *observability.SparkdMetrics) Option {
	return func(g *Gateway) { g.metrics = metrics }
}

// Dial connects to the configured RPC endpoint and builds a gateway over it.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Gateway, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: rpc url required", ErrNotConfigured)
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	gw, err := New(client, cfg, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	gw.closer = client.Close
	return gw, nil
}

// New builds a gateway over an existing backend. Without a signer key the
// gateway is read-only and every write fails with ErrNotConfigured.
func New(backend Backend, cfg Config, opts ...Option) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend required", ErrNotConfigured)
	}
	gw := &Gateway{
		backend:     backend,
		callTimeout: cfg.CallTimeout,
		logger:      slog.Default(),
	}
	var err error
	if gw.gasManager, err = contractAddress("GasManager", cfg.GasManager); err != nil {
		return nil, err
	}
	if gw.questHub, err = contractAddress("QuestHub", cfg.QuestHub); err != nil {
		return nil, err
	}
	if gw.bridgeManager, err = contractAddress("BridgeManager", cfg.BridgeManager); err != nil {
		return nil, err
	}
	if key := strings.TrimSpace(cfg.SignerKey); key != "" {
		if gw.signer, err = newTransactor(backend, key, cfg); err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		opt(gw)
	}
	return gw, nil
}

// Close releases the RPC connection when the gateway owns it.
func (g *Gateway) Close() {
	if g != nil && g.closer != nil {
		g.closer()
	}
}

// Signer returns the address used for writes, or the zero address when the
// gateway is read-only.
func (g *Gateway) Signer() common.Address {
	if g == nil || g.signer == nil {
		return common.Address{}
	}
	return g.signer.from
}

// ChainID reports the network id of the connected node.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}
	id, err := g.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

// Quest returns the definition of quest id.
func (g *Gateway) Quest(ctx context.Context, id uint64) (Quest, error) {
	out, err := g.call(ctx, "get_quest", g.questHub, QuestHubABI, "getQuest", new(big.Int).SetUint64(id))
	if err != nil {
		return Quest{}, err
	}
	quest := Quest{
		ID:              id,
		Name:            out.str(0),
		Description:     out.str(1),
		XPReward:        out.integer(2).String(),
		GasReward:       units.FormatEther(out.integer(3)),
		IsActive:        out.boolean(4),
		CompletionCount: out.integer(5).String(),
	}
	return quest, out.err
}

// Quests enumerates quests 1..getTotalQuests. Any single failure fails the
// whole call.
func (g *Gateway) Quests(ctx context.Context) ([]Quest, error) {
	out, err := g.call(ctx, "get_total_quests", g.questHub, QuestHubABI, "getTotalQuests")
	if err != nil {
		return nil, err
	}
	total := out.integer(0)
	if out.err != nil {
		return nil, out.err
	}
	if !total.IsUint64() {
		return nil, fmt.Errorf("quest count %s out of range", total)
	}
	count := total.Uint64()
	quests := make([]Quest, 0, count)
	for id := uint64(1); id <= count; id++ {
		quest, err := g.Quest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("quest %d: %w", id, err)
		}
		quests = append(quests, quest)
	}
	return quests, nil
}

// HasCompletedQuest reports the on-chain completion flag.
func (g *Gateway) HasCompletedQuest(ctx context.Context, user string, id uint64) (bool, error) {
	addr, err := parseAddress(user)
	if err != nil {
		return false, err
	}
	out, err := g.call(ctx, "has_completed_quest", g.questHub, QuestHubABI, "hasCompletedQuest", addr, new(big.Int).SetUint64(id))
	if err != nil {
		return false, err
	}
	done := out.boolean(0)
	return done, out.err
}

// VerifyAndCompleteQuest submits the completion for user and waits for it to
// be confirmed.
func (g *Gateway) VerifyAndCompleteQuest(ctx context.Context, user string, id uint64) (QuestReceipt, error) {
	addr, err := parseAddress(user)
	if err != nil {
		return QuestReceipt{}, err
	}
	receipt, err := g.send(ctx, "verify_and_complete_quest", g.questHub, QuestHubABI, "verifyAndCompleteQuest", addr, new(big.Int).SetUint64(id))
	if err != nil {
		return QuestReceipt{}, err
	}
	result := QuestReceipt{TxHash: receipt.TxHash.Hex()}
	completedID := QuestHubABI.Events["QuestCompleted"].ID
	levelUpID := QuestHubABI.Events["LevelUp"].ID
	for _, log := range g.logsFrom(receipt, g.questHub) {
		switch log.Topics[0] {
		case completedID:
			values, err := QuestHubABI.Unpack("QuestCompleted", log.Data)
			if err != nil {
				return QuestReceipt{}, fmt.Errorf("decode QuestCompleted: %w", err)
			}
			out := outputs{vals: values}
			result.XPEarned = out.integer(0).String()
			result.GasEarned = units.FormatEther(out.integer(1))
			if out.err != nil {
				return QuestReceipt{}, out.err
			}
		case levelUpID:
			values, err := QuestHubABI.Unpack("LevelUp", log.Data)
			if err != nil {
				return QuestReceipt{}, fmt.Errorf("decode LevelUp: %w", err)
			}
			out := outputs{vals: values}
			result.LevelUp = &LevelUp{NewLevel: out.integer(0).String(), TotalXP: out.integer(1).String()}
			if out.err != nil {
				return QuestReceipt{}, out.err
			}
		}
	}
	return result, nil
}

// UserProgress returns the on-chain progress of user.
func (g *Gateway) UserProgress(ctx context.Context, user string) (UserProgress, error) {
	addr, err := parseAddress(user)
	if err != nil {
		return UserProgress{}, err
	}
	out, err := g.call(ctx, "get_user_progress", g.questHub, QuestHubABI, "getUserProgress", addr)
	if err != nil {
		return UserProgress{}, err
	}
	progress := UserProgress{
		TotalXP:         out.integer(0).String(),
		CompletedQuests: out.integer(1).String(),
		Level:           out.integer(2).String(),
		XPToNextLevel:   out.integer(3).String(),
	}
	return progress, out.err
}

// AllocateGas submits a gas allocation for user and decodes the resulting
// GasAllocated event.
func (g *Gateway) AllocateGas(ctx context.Context, user string) (Allocation, error) {
	addr, err := parseAddress(user)
	if err != nil {
		return Allocation{}, err
	}
	receipt, err := g.send(ctx, "allocate_gas", g.gasManager, GasManagerABI, "allocateGas", addr)
	if err != nil {
		return Allocation{}, err
	}
	eventID := GasManagerABI.Events["GasAllocated"].ID
	for _, log := range g.logsFrom(receipt, g.gasManager) {
		if log.Topics[0] != eventID || len(log.Topics) < 3 {
			continue
		}
		values, err := GasManagerABI.Unpack("GasAllocated", log.Data)
		if err != nil {
			return Allocation{}, fmt.Errorf("decode GasAllocated: %w", err)
		}
		out := outputs{vals: values}
		amount := out.integer(0)
		ts := out.integer(1)
		if out.err != nil {
			return Allocation{}, out.err
		}
		return Allocation{
			ID:        log.Topics[1].Hex(),
			User:      common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
			Amount:    units.FormatEther(amount),
			Timestamp: unixTime(ts),
			TxHash:    receipt.TxHash.Hex(),
		}, nil
	}
	return Allocation{}, fmt.Errorf("%w: GasAllocated in %s", ErrEventNotFound, receipt.TxHash.Hex())
}

// RevertGas returns an allocation to the pool on chain.
func (g *Gateway) RevertGas(ctx context.Context, allocationID string) (string, error) {
	id, err := parseBytes32(allocationID)
	if err != nil {
		return "", err
	}
	receipt, err := g.send(ctx, "revert_gas", g.gasManager, GasManagerABI, "revertGas", id)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// PoolBalance returns the pool balance as a decimal string.
func (g *Gateway) PoolBalance(ctx context.Context) (string, error) {
	out, err := g.call(ctx, "pool_balance", g.gasManager, GasManagerABI, "poolBalance")
	if err != nil {
		return "", err
	}
	balance := units.FormatEther(out.integer(0))
	return balance, out.err
}

// Eligibility returns the amount user may allocate as a decimal string.
func (g *Gateway) Eligibility(ctx context.Context, user string) (string, error) {
	addr, err := parseAddress(user)
	if err != nil {
		return "", err
	}
	out, err := g.call(ctx, "user_eligible_amount", g.gasManager, GasManagerABI, "userEligibleAmount", addr)
	if err != nil {
		return "", err
	}
	amount := units.FormatEther(out.integer(0))
	return amount, out.err
}

// CalculateBridgeOutput simulates a bridge of amount into targetToken.
func (g *Gateway) CalculateBridgeOutput(ctx context.Context, amount, targetToken string) (BridgeQuote, error) {
	value, err := units.ParseEther(amount)
	if err != nil {
		return BridgeQuote{}, err
	}
	out, err := g.call(ctx, "calculate_bridge_output", g.bridgeManager, BridgeManagerABI, "calculateBridgeOutput", value, targetToken)
	if err != nil {
		return BridgeQuote{}, err
	}
	quote := BridgeQuote{
		OutputAmount: units.FormatEther(out.integer(0)),
		Fee:          units.FormatEther(out.integer(1)),
	}
	return quote, out.err
}

// BridgeRequest fetches a bridge request. Identifiers that are not 32-byte
// hex values and requests with an empty user are reported as ErrNotFound.
func (g *Gateway) BridgeRequest(ctx context.Context, requestID string) (BridgeRequest, error) {
	id, err := parseBytes32(requestID)
	if err != nil {
		return BridgeRequest{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	out, err := g.call(ctx, "get_bridge_request", g.bridgeManager, BridgeManagerABI, "getBridgeRequest", id)
	if err != nil {
		return BridgeRequest{}, err
	}
	user := out.address(0)
	request := BridgeRequest{
		User:        user.Hex(),
		Amount:      units.FormatEther(out.integer(1)),
		TargetChain: out.str(2),
		TargetToken: out.str(3),
		Timestamp:   out.integer(4).String(),
		IsCompleted: out.boolean(5),
	}
	if out.err != nil {
		return BridgeRequest{}, out.err
	}
	if user == (common.Address{}) {
		return BridgeRequest{}, fmt.Errorf("%w: bridge request %s", ErrNotFound, requestID)
	}
	return request, nil
}

// CompleteBridge marks a bridge request completed on chain.
func (g *Gateway) CompleteBridge(ctx context.Context, requestID string) (string, error) {
	id, err := parseBytes32(requestID)
	if err != nil {
		return "", err
	}
	receipt, err := g.send(ctx, "complete_bridge", g.bridgeManager, BridgeManagerABI, "completeBridge", id)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

func (g *Gateway) call(ctx context.Context, op string, contract common.Address, parsed abi.ABI, method string, args ...any) (out *outputs, err error) {
	start := time.Now()
	defer func() { g.metrics.ObserveChainCall(op, time.Since(start), err) }()

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}
	raw, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return &outputs{vals: values}, nil
}

func (g *Gateway) send(ctx context.Context, op string, contract common.Address, parsed abi.ABI, method string, args ...any) (receipt *gethtypes.Receipt, err error) {
	start := time.Now()
	defer func() {
		g.metrics.ObserveChainCall(op, time.Since(start), err)
		if err != nil {
			g.logger.Warn("chain write failed", slog.String("method", method), slog.Any("error", err))
			return
		}
		g.logger.Info("chain write confirmed",
			slog.String("method", method),
			slog.String("tx", receipt.TxHash.Hex()),
			slog.Duration("elapsed", time.Since(start)))
	}()

	if g.signer == nil {
		return nil, fmt.Errorf("%w: %w: signer key required for %s", ErrWriteFailed, ErrNotConfigured, method)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	receipt, err = g.signer.transact(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWriteFailed, method, err)
	}
	return receipt, nil
}

func (g *Gateway) logsFrom(receipt *gethtypes.Receipt, contract common.Address) []*gethtypes.Log {
	logs := make([]*gethtypes.Log, 0, len(receipt.Logs))
	for _, log := range receipt.Logs {
		if log == nil || log.Address != contract || len(log.Topics) == 0 {
			continue
		}
		logs = append(logs, log)
	}
	return logs
}

func contractAddress(name, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s address %q", ErrNotConfigured, name, trimmed)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s address is zero", ErrNotConfigured, name)
	}
	return addr, nil
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

func parseBytes32(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("%w: %q", ErrInvalidRequestID, value)
	}
	copy(out[:], raw)
	return out, nil
}

func trimHexPrefix(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return trimmed[2:]
	}
	return trimmed
}

func unixTime(ts *big.Int) time.Time {
	if ts == nil || !ts.IsInt64() {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0).UTC()
}

// outputs decodes unpacked ABI values, keeping the first type mismatch.
type outputs struct {
	vals []any
	err  error
}

func (o *outputs) at(i int) any {
	if i >= len(o.vals) {
		if o.err == nil {
			o.err = fmt.Errorf("abi output %d missing", i)
		}
		return nil
	}
	return o.vals[i]
}

func (o *outputs) mismatch(i int, want string) {
	if o.err == nil {
		o.err = fmt.Errorf("abi output %d: expected %s, got %T", i, want, o.at(i))
	}
}

func (o *outputs) integer(i int) *big.Int {
	v, ok := o.at(i).(*big.Int)
	if !ok || v == nil {
		o.mismatch(i, "uint256")
		return new(big.Int)
	}
	return v
}

func (o *outputs) str(i int) string {
	v, ok := o.at(i).(string)
	if !ok {
		o.mismatch(i, "string")
	}
	return v
}

func (o *outputs) boolean(i int) bool {
	v, ok := o.at(i).(bool)
	if !ok {
		o.mismatch(i, "bool")
	}
	return v
}

func (o *outputs) address(i int) common.Address {
	v, ok := o.at(i).(common.Address)
	if !ok {
		o.mismatch(i, "address")
	}
	return v
}
