package sparkd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"monspark/services/sparkd/chain"
	"monspark/services/sparkd/config"
	"monspark/storage"
)

func TestOpenDatabaseDrivers(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]config.LedgerConfig{
		"memory":  {Driver: config.DriverMemory},
		"leveldb": {Driver: config.DriverLevelDB, Path: filepath.Join(dir, "nested", "ledger")},
		"sqlite":  {Driver: config.DriverSQLite, Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())},
	}
	for name, cfg := range cases {
		db, err := openDatabase(cfg)
		if err != nil {
			t.Fatalf("%s: open: %v", name, err)
		}
		if err := db.Put([]byte("user/0xabc"), []byte("{}")); err != nil {
			t.Fatalf("%s: put: %v", name, err)
		}
		if _, err := db.Get([]byte("user/0xabc")); err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if _, err := db.Get([]byte("missing")); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
		_ = db.Close()
	}
	if _, err := openDatabase(config.LedgerConfig{Driver: "redis"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := openDatabase(config.LedgerConfig{Driver: config.DriverPostgres}); err == nil {
		t.Fatalf("expected postgres dsn error")
	}
}

func TestResolveSignerKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := resolveSignerKey(config.ChainConfig{SignerKey: "0xinline"}, logger); got != "0xinline" {
		t.Fatalf("inline key not preferred: %q", got)
	}
	t.Setenv("SPARKD_TEST_SIGNER", "0xfromenv")
	if got := resolveSignerKey(config.ChainConfig{SignerKeyEnv: "SPARKD_TEST_SIGNER"}, logger); got != "0xfromenv" {
		t.Fatalf("env key not used: %q", got)
	}
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("0xfromfile\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if got := resolveSignerKey(config.ChainConfig{SignerKeyEnv: "SPARKD_TEST_SIGNER_UNSET", SignerKeyFile: path}, logger); got != "0xfromfile" {
		t.Fatalf("file key not used: %q", got)
	}
}

func TestTelemetryConfigDescribesDeployment(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Method != "eth_chainId" {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"unsupported"}}`, req.ID)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x279f"}`, req.ID)
	}))
	defer node.Close()

	cfg := config.Config{Environment: "staging"}
	cfg.Ledger.Driver = config.DriverLevelDB
	cfg.Chain.Contracts = config.Contracts{
		GasManager:    "0x5FbDB2315678afcb405f7c823e78e8a2c7bC5CBa",
		QuestHub:      "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		BridgeManager: "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0",
	}
	cfg.Telemetry.Headers = "x-tenant=monspark"
	cfg.Telemetry.SampleRatio = 0.5

	gw, err := chain.Dial(context.Background(), chain.Config{
		RPCURL:        node.URL,
		GasManager:    cfg.Chain.Contracts.GasManager,
		QuestHub:      cfg.Chain.Contracts.QuestHub,
		BridgeManager: cfg.Chain.Contracts.BridgeManager,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer gw.Close()

	tc := telemetryConfig(context.Background(), cfg, gw, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d := tc.Deployment
	if d.Service != "sparkd" || d.Environment != "staging" || d.LedgerDriver != config.DriverLevelDB {
		t.Fatalf("unexpected deployment %+v", d)
	}
	if d.ChainID != "10143" {
		t.Fatalf("expected chain id 10143, got %q", d.ChainID)
	}
	if d.Signer != "" {
		t.Fatalf("read-only gateway should not report a signer, got %s", d.Signer)
	}
	if d.QuestHub != cfg.Chain.Contracts.QuestHub {
		t.Fatalf("unexpected quest hub %s", d.QuestHub)
	}
	if tc.Exporter.Headers["x-tenant"] != "monspark" || tc.Exporter.SampleRatio != 0.5 {
		t.Fatalf("unexpected exporter %+v", tc.Exporter)
	}
}
