package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	gasManagerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	questHubAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	bridgeManagerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	userAddr          = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type callHandler func(args []any) ([]any, error)

type fakeBackend struct {
	mu           sync.Mutex
	handlers     map[string]callHandler
	calls        map[string]int
	sent         []*gethtypes.Transaction
	receipts     map[common.Hash]*gethtypes.Receipt
	logs         func(method string, tx *gethtypes.Transaction) []*gethtypes.Log
	status       uint64
	estimateErr  error
	baseFee      *big.Int
	pendingPolls int
	head         int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		handlers: make(map[string]callHandler),
		calls:    make(map[string]int),
		receipts: make(map[common.Hash]*gethtypes.Receipt),
		status:   gethtypes.ReceiptStatusSuccessful,
		baseFee:  big.NewInt(1_000_000_000),
		head:     10,
	}
}

func contractABI(addr common.Address) abi.ABI {
	switch addr {
	case gasManagerAddr:
		return GasManagerABI
	case questHubAddr:
		return QuestHubABI
	default:
		return BridgeManagerABI
	}
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed := contractABI(*call.To)
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls[method.Name]++
	handler := f.handlers[method.Name]
	f.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("no handler for %s", method.Name)
	}
	outs, err := handler(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(outs...)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	parsed := contractABI(*tx.To())
	method, err := parsed.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	var logs []*gethtypes.Log
	if f.logs != nil {
		logs = f.logs(method.Name, tx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.receipts[tx.Hash()] = &gethtypes.Receipt{
		Status:      f.status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(10),
		Logs:        logs,
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingPolls > 0 {
		f.pendingPolls--
		return nil, ethereum.NotFound
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &gethtypes.Header{Number: big.NewInt(f.head), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(10143), nil
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newGateway(t *testing.T, backend *fakeBackend, withSigner bool) *Gateway {
	t.Helper()
	cfg := Config{
		GasManager:    gasManagerAddr.Hex(),
		QuestHub:      questHubAddr.Hex(),
		BridgeManager: bridgeManagerAddr.Hex(),
		PollInterval:  time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
	if withSigner {
		key, err := gethcrypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		cfg.SignerKey = hexutil.Encode(gethcrypto.FromECDSA(key))
	}
	gw, err := New(backend, cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func ether(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func eventLog(t *testing.T, contract common.Address, parsed abi.ABI, name string, topics []common.Hash, values ...any) *gethtypes.Log {
	t.Helper()
	event := parsed.Events[name]
	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", name, err)
	}
	return &gethtypes.Log{Address: contract, Topics: append([]common.Hash{event.ID}, topics...), Data: data}
}

func TestNewRejectsMissingContracts(t *testing.T) {
	_, err := New(newFakeBackend(), Config{GasManager: gasManagerAddr.Hex(), QuestHub: "nope", BridgeManager: bridgeManagerAddr.Hex()})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	_, err = New(newFakeBackend(), Config{GasManager: gasManagerAddr.Hex(), QuestHub: questHubAddr.Hex(), BridgeManager: common.Address{}.Hex()})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("zero address should be rejected, got %v", err)
	}
}

func TestQuestsEnumeratesAndFormats(t *testing.T) {
	backend := newFakeBackend()
	backend.handlers["getTotalQuests"] = func([]any) ([]any, error) { return []any{big.NewInt(2)}, nil }
	backend.handlers["getQuest"] = func(args []any) ([]any, error) {
		id := args[0].(*big.Int).Int64()
		return []any{fmt.Sprintf("Quest %d", id), "desc", big.NewInt(100 * id), ether("50000000000000000"), true, big.NewInt(7)}, nil
	}
	gw := newGateway(t, backend, false)
	quests, err := gw.Quests(context.Background())
	if err != nil {
		t.Fatalf("quests: %v", err)
	}
	if len(quests) != 2 {
		t.Fatalf("expected 2 quests, got %d", len(quests))
	}
	if quests[1].ID != 2 || quests[1].Name != "Quest 2" || quests[1].XPReward != "200" {
		t.Fatalf("unexpected quest %+v", quests[1])
	}
	if quests[0].GasReward != "0.05" || quests[0].CompletionCount != "7" || !quests[0].IsActive {
		t.Fatalf("unexpected formatting %+v", quests[0])
	}
}

func TestQuestsFailsWhenAnyLookupFails(t *testing.T) {
	backend := newFakeBackend()
	backend.handlers["getTotalQuests"] = func([]any) ([]any, error) { return []any{big.NewInt(3)}, nil }
	backend.handlers["getQuest"] = func(args []any) ([]any, error) {
		if args[0].(*big.Int).Int64() == 2 {
			return nil, errors.New("execution reverted")
		}
		return []any{"q", "d", big.NewInt(1), big.NewInt(1), true, big.NewInt(0)}, nil
	}
	gw := newGateway(t, backend, false)
	if quests, err := gw.Quests(context.Background()); err == nil || quests != nil {
		t.Fatalf("expected whole call to fail, got %v %v", quests, err)
	}
}

func TestReadsFormatEther(t *testing.T) {
	backend := newFakeBackend()
	backend.handlers["poolBalance"] = func([]any) ([]any, error) { return []any{ether("1000000000000000000")}, nil }
	backend.handlers["userEligibleAmount"] = func(args []any) ([]any, error) {
		if args[0].(common.Address) != userAddr {
			return nil, errors.New("unexpected user")
		}
		return []any{big.NewInt(0)}, nil
	}
	backend.handlers["calculateBridgeOutput"] = func(args []any) ([]any, error) {
		in := args[0].(*big.Int)
		fee := new(big.Int).Div(in, big.NewInt(100))
		return []any{new(big.Int).Sub(in, fee), fee}, nil
	}
	gw := newGateway(t, backend, false)
	ctx := context.Background()

	balance, err := gw.PoolBalance(ctx)
	if err != nil || balance != "1.0" {
		t.Fatalf("unexpected pool balance %q %v", balance, err)
	}
	eligible, err := gw.Eligibility(ctx, userAddr.Hex())
	if err != nil || eligible != "0.0" {
		t.Fatalf("unexpected eligibility %q %v", eligible, err)
	}
	quote, err := gw.CalculateBridgeOutput(ctx, "2", "USDC")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.OutputAmount != "1.98" || quote.Fee != "0.02" {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if _, err := gw.Eligibility(ctx, "not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestAllocateGasDecodesEvent(t *testing.T) {
	backend := newFakeBackend()
	allocationID := common.HexToHash("0xfeed")
	backend.logs = func(method string, tx *gethtypes.Transaction) []*gethtypes.Log {
		if method != "allocateGas" {
			return nil
		}
		return []*gethtypes.Log{
			{Address: questHubAddr, Topics: []common.Hash{GasManagerABI.Events["GasAllocated"].ID}},
			eventLog(t, gasManagerAddr, GasManagerABI, "GasAllocated",
				[]common.Hash{allocationID, common.BytesToHash(userAddr.Bytes())},
				ether("50000000000000000"), big.NewInt(1_700_000_000)),
		}
	}
	gw := newGateway(t, backend, true)
	alloc, err := gw.AllocateGas(context.Background(), userAddr.Hex())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if alloc.ID != allocationID.Hex() || alloc.Amount != "0.05" {
		t.Fatalf("unexpected allocation %+v", alloc)
	}
	if alloc.User != userAddr.Hex() || alloc.Timestamp.Unix() != 1_700_000_000 {
		t.Fatalf("unexpected allocation metadata %+v", alloc)
	}
	if backend.sentCount() != 1 {
		t.Fatalf("expected one transaction, got %d", backend.sentCount())
	}
	tx := backend.sent[0]
	if tx.Type() != gethtypes.DynamicFeeTxType {
		t.Fatalf("expected dynamic fee transaction, got type %d", tx.Type())
	}
	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil || sender != gw.Signer() {
		t.Fatalf("unexpected sender %s %v", sender.Hex(), err)
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("expected padded gas limit, got %d", tx.Gas())
	}
}

func TestAllocateGasWithoutEventFails(t *testing.T) {
	backend := newFakeBackend()
	gw := newGateway(t, backend, true)
	_, err := gw.AllocateGas(context.Background(), userAddr.Hex())
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestWriteFailures(t *testing.T) {
	ctx := context.Background()

	reverted := newFakeBackend()
	reverted.status = gethtypes.ReceiptStatusFailed
	gw := newGateway(t, reverted, true)
	if _, err := gw.CompleteBridge(ctx, common.HexToHash("0x01").Hex()); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("reverted receipt should fail, got %v", err)
	}

	estimate := newFakeBackend()
	estimate.estimateErr = errors.New("execution reverted: already completed")
	gw = newGateway(t, estimate, true)
	if _, err := gw.VerifyAndCompleteQuest(ctx, userAddr.Hex(), 1); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("estimate failure should fail, got %v", err)
	}
	if estimate.sentCount() != 0 {
		t.Fatalf("nothing should be broadcast when estimation fails")
	}

	readOnly := newGateway(t, newFakeBackend(), false)
	if _, err := readOnly.RevertGas(ctx, common.HexToHash("0x02").Hex()); !errors.Is(err, ErrWriteFailed) || !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("read-only gateway must reject writes, got %v", err)
	}
	if _, err := gw.CompleteBridge(ctx, "local-id"); !errors.Is(err, ErrInvalidRequestID) {
		t.Fatalf("expected ErrInvalidRequestID, got %v", err)
	}
}

func TestLegacyTransactionWithoutBaseFee(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = nil
	gw := newGateway(t, backend, true)
	hash, err := gw.CompleteBridge(context.Background(), common.HexToHash("0x03").Hex())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if backend.sent[0].Type() != gethtypes.LegacyTxType {
		t.Fatalf("expected legacy transaction")
	}
	if hash != backend.sent[0].Hash().Hex() {
		t.Fatalf("unexpected hash %s", hash)
	}
}

func TestWaitPollsUntilConfirmed(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingPolls = 3
	backend.head = 12
	gw := newGateway(t, backend, true)
	gw.signer.confirmations = 3
	if _, err := gw.RevertGas(context.Background(), common.HexToHash("0x04").Hex()); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if backend.pendingPolls != 0 {
		t.Fatalf("expected receipt polling to drain pending polls")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingPolls = 1 << 30
	gw := newGateway(t, backend, true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gw.CompleteBridge(ctx, common.HexToHash("0x05").Hex())
	if !errors.Is(err, ErrWriteFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline failure, got %v", err)
	}
}

func TestVerifyAndCompleteQuestDecodesEvents(t *testing.T) {
	backend := newFakeBackend()
	backend.logs = func(method string, tx *gethtypes.Transaction) []*gethtypes.Log {
		userTopic := common.BytesToHash(userAddr.Bytes())
		return []*gethtypes.Log{
			eventLog(t, questHubAddr, QuestHubABI, "QuestCompleted",
				[]common.Hash{userTopic, common.BigToHash(big.NewInt(4))},
				big.NewInt(150), ether("10000000000000000")),
			eventLog(t, questHubAddr, QuestHubABI, "LevelUp", []common.Hash{userTopic}, big.NewInt(3), big.NewInt(1200)),
		}
	}
	gw := newGateway(t, backend, true)
	receipt, err := gw.VerifyAndCompleteQuest(context.Background(), userAddr.Hex(), 4)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if receipt.XPEarned != "150" || receipt.GasEarned != "0.01" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.LevelUp == nil || receipt.LevelUp.NewLevel != "3" || receipt.LevelUp.TotalXP != "1200" {
		t.Fatalf("unexpected level up %+v", receipt.LevelUp)
	}
}

func TestBridgeRequestNotFound(t *testing.T) {
	backend := newFakeBackend()
	backend.handlers["getBridgeRequest"] = func(args []any) ([]any, error) {
		id := args[0].([32]byte)
		if id[31] == 0x01 {
			return []any{userAddr, ether("2000000000000000000"), "Polygon", "MATIC", big.NewInt(1_700_000_000), false}, nil
		}
		return []any{common.Address{}, big.NewInt(0), "", "", big.NewInt(0), false}, nil
	}
	gw := newGateway(t, backend, false)
	ctx := context.Background()

	if _, err := gw.BridgeRequest(ctx, "0190a1b2-local-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non bytes32 id should be not found, got %v", err)
	}
	if backend.calls["getBridgeRequest"] != 0 {
		t.Fatalf("invalid ids must not reach the chain")
	}
	if _, err := gw.BridgeRequest(ctx, common.HexToHash("0x02").Hex()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("zero user should be not found, got %v", err)
	}
	req, err := gw.BridgeRequest(ctx, common.HexToHash("0x01").Hex())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if req.Amount != "2.0" || req.TargetToken != "MATIC" || req.User != userAddr.Hex() {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestUserProgressAndCompletionFlag(t *testing.T) {
	backend := newFakeBackend()
	backend.handlers["getUserProgress"] = func([]any) ([]any, error) {
		return []any{big.NewInt(350), big.NewInt(2), big.NewInt(1), big.NewInt(650)}, nil
	}
	backend.handlers["hasCompletedQuest"] = func(args []any) ([]any, error) {
		return []any{args[1].(*big.Int).Int64() == 1}, nil
	}
	gw := newGateway(t, backend, false)
	ctx := context.Background()
	progress, err := gw.UserProgress(ctx, userAddr.Hex())
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress != (UserProgress{TotalXP: "350", CompletedQuests: "2", Level: "1", XPToNextLevel: "650"}) {
		t.Fatalf("unexpected progress %+v", progress)
	}
	done, err := gw.HasCompletedQuest(ctx, userAddr.Hex(), 1)
	if err != nil || !done {
		t.Fatalf("expected quest 1 completed: %v %v", done, err)
	}
	done, _ = gw.HasCompletedQuest(ctx, userAddr.Hex(), 2)
	if done {
		t.Fatalf("quest 2 should not be completed")
	}
}

func TestChainIDFromBackend(t *testing.T) {
	gw := newGateway(t, newFakeBackend(), false)
	id, err := gw.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Int64() != 10143 {
		t.Fatalf("unexpected chain id %s", id)
	}
}
