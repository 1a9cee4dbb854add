package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/internal/fakenode"
	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/ledger/sqlstore"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/mempool/memory"
	"github.com/vipnode/gateway/nodepool"
	"github.com/vipnode/gateway/status"
	"github.com/vipnode/gateway/submission"
	"github.com/vipnode/gateway/txquery"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func committed() []ledger.Transaction {
	tx := func(sv uint64, change ledger.VaultChange) ledger.Transaction {
		return ledger.Transaction{
			StateVersion:   sv,
			PayloadHash:    fmt.Sprintf("0xpayload%d", sv),
			IntentHash:     fmt.Sprintf("0xintent%d", sv),
			RoundTimestamp: t0.Add(time.Duration(sv) * time.Second),
			Epoch:          1,
			RoundInEpoch:   sv,
			Success:        true,
			Accounts:       []string{"account_alice"},
			VaultChanges:   []ledger.VaultChange{change},
		}
	}
	return []ledger.Transaction{
		tx(1, ledger.VaultChange{EntityID: "account_alice", VaultID: "vault_1", ResourceID: "resource_xrd", Fungible: true, Delta: "100"}),
		tx(2, ledger.VaultChange{EntityID: "account_alice", VaultID: "vault_2", ResourceID: "resource_nft", Delta: "1"}),
		tx(3, ledger.VaultChange{EntityID: "account_alice", VaultID: "vault_1", ResourceID: "resource_xrd", Fungible: true, Delta: "-30"}),
	}
}

func dialGateway(t *testing.T) *rpc.Client {
	t.Helper()
	ctx := context.Background()

	replica, err := sqlstore.OpenInMemory("localnet")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { replica.Close() })
	if _, err := replica.Ingest(ctx, committed(), 3); err != nil {
		t.Fatal(err)
	}

	node := fakenode.Node("localnet", 3)
	dial := func(ctx context.Context, address string) (coreapi.Node, error) { return node, nil }
	pool, err := nodepool.NewPool(nodepool.DefaultConfig(), []nodepool.Node{{Name: "A", Address: "a", Weight: 1, Enabled: true}}, dial)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	states := ledgerstate.New(replica, ledgerstate.DefaultConfig())
	states.Now = func() time.Time { return t0.Add(10 * time.Second) }
	pending := memory.New()
	txns, err := txquery.New(replica, states, pending, txquery.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	server, err := NewServer(&Service{
		Status: &status.GatewayStatus{
			Network: "localnet",
			Nodes:   pool,
			Ledger:  states,
			Mempool: pending,
			Version: "test",
		},
		Store:        replica,
		States:       states,
		Submitter:    submission.NewSubmitter(pool, pending, states),
		Transactions: txns,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(server.Stop)
	client := rpc.DialInProc(server)
	t.Cleanup(client.Close)
	return client
}

func TestLedgerState(t *testing.T) {
	client := dialGateway(t)
	ctx := context.Background()

	var state ledger.State
	if err := client.CallContext(ctx, &state, "gateway_ledgerState"); err != nil {
		t.Fatal(err)
	}
	if state.StateVersion != 3 || state.Network != "localnet" {
		t.Errorf("unexpected top: %+v", state)
	}
	if err := client.CallContext(ctx, &state, "gateway_ledgerState", ledger.AtStateVersion(2)); err != nil {
		t.Fatal(err)
	}
	if state.StateVersion != 2 {
		t.Errorf("got: %d; want: 2", state.StateVersion)
	}

	var resp status.Response
	if err := client.CallContext(ctx, &resp, "gateway_status"); err != nil {
		t.Fatal(err)
	}
	if resp.PoolTier != nodepool.HealthyAndSynced || resp.Ledger == nil || resp.Ledger.LedgerState.StateVersion != 3 {
		t.Errorf("unexpected status: %+v", resp)
	}
}

func TestTransactions(t *testing.T) {
	client := dialGateway(t)
	ctx := context.Background()

	var page txquery.Page
	if err := client.CallContext(ctx, &page, "gateway_recentTransactions", txquery.Request{Limit: 2}); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[0].StateVersion != 3 || page.Items[1].StateVersion != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.NextCursor == "" {
		t.Fatal("missing next cursor")
	}

	var next txquery.Page
	if err := client.CallContext(ctx, &next, "gateway_accountTransactions", "account_alice", txquery.Request{Limit: 2, Cursor: page.NextCursor}); err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 1 || next.Items[0].StateVersion != 1 || next.NextCursor != "" {
		t.Errorf("unexpected page: %+v", next)
	}
	if next.TotalCount != 3 {
		t.Errorf("got: %d; want: 3", next.TotalCount)
	}

	var bounded txquery.Page
	if err := client.CallContext(ctx, &bounded, "gateway_recentTransactions", txquery.Request{FromLedgerState: ledger.AtStateVersion(2)}); err != nil {
		t.Fatal(err)
	}
	if len(bounded.Items) != 2 || bounded.Items[1].StateVersion != 2 || bounded.NextCursor != "" {
		t.Errorf("unexpected page: %+v", bounded)
	}
	if bounded.FromLedgerState == nil || bounded.FromLedgerState.StateVersion != 2 {
		t.Errorf("unexpected from ledger state: %+v", bounded.FromLedgerState)
	}

	counts := []struct {
		at   *ledger.Identifier
		want int64
	}{
		{nil, 3},
		{ledger.AtStateVersion(2), 2},
	}
	for i, tc := range counts {
		var n int64
		if err := client.CallContext(ctx, &n, "gateway_accountTransactionCount", "account_alice", tc.at); err != nil {
			t.Fatal(err)
		}
		if n != tc.want {
			t.Errorf("[case %d] got: %d; want: %d", i, n, tc.want)
		}
	}
	var n int64
	if err := client.CallContext(ctx, &n, "gateway_accountTransactionCount", ""); errorCode(err) != (ledger.InvalidRequestError{}).ErrorCode() {
		t.Errorf("expected invalid request error, got: %v", err)
	}

	var committedTx txquery.CommittedTransaction
	if err := client.CallContext(ctx, &committedTx, "gateway_committedTransaction", "0xintent2"); err != nil {
		t.Fatal(err)
	}
	if committedTx.Transaction == nil || committedTx.Transaction.StateVersion != 2 {
		t.Errorf("unexpected transaction: %+v", committedTx)
	}
}

func TestSubmitAndStatus(t *testing.T) {
	client := dialGateway(t)
	ctx := context.Background()

	payload := fakenode.Payload("localnet", 1)
	var result submission.Result
	if err := client.CallContext(ctx, &result, "gateway_submit", hexutil.Bytes(payload)); err != nil {
		t.Fatal(err)
	}
	if result.Duplicate || result.IntentHash == "" {
		t.Errorf("unexpected result: %+v", result)
	}

	var resp txquery.StatusResponse
	if err := client.CallContext(ctx, &resp, "gateway_transactionStatus", result.IntentHash); err != nil {
		t.Fatal(err)
	}
	if resp.Status != txquery.StatusPending || resp.SubmissionCount != 1 {
		t.Errorf("unexpected status: %+v", resp)
	}

	if err := client.CallContext(ctx, &result, "gateway_submit", hexutil.Bytes(fakenode.Payload("mainnet", 1))); err == nil {
		t.Error("expected error for a transaction of another network")
	} else if code := errorCode(err); code != (submission.InvalidTransactionError{}).ErrorCode() {
		t.Errorf("got code: %d; want: %d", code, (submission.InvalidTransactionError{}).ErrorCode())
	}
}

func TestEntityResources(t *testing.T) {
	client := dialGateway(t)
	ctx := context.Background()

	var resp EntityResources
	if err := client.CallContext(ctx, &resp, "gateway_entityResources", "account_alice"); err != nil {
		t.Fatal(err)
	}
	wantFungible := []Resource{{ResourceID: "resource_xrd", LastUpdatedAtStateVersion: 1, Amount: "70"}}
	wantNonFungible := []Resource{{ResourceID: "resource_nft", LastUpdatedAtStateVersion: 2, Amount: "1"}}
	if len(resp.Fungible) != 1 || resp.Fungible[0] != wantFungible[0] {
		t.Errorf("got: %+v; want: %+v", resp.Fungible, wantFungible)
	}
	if len(resp.NonFungible) != 1 || resp.NonFungible[0] != wantNonFungible[0] {
		t.Errorf("got: %+v; want: %+v", resp.NonFungible, wantNonFungible)
	}

	if err := client.CallContext(ctx, &resp, "gateway_entityResources", "account_alice", ledger.AtStateVersion(1)); err != nil {
		t.Fatal(err)
	}
	if len(resp.Fungible) != 1 || resp.Fungible[0].Amount != "100" || len(resp.NonFungible) != 0 {
		t.Errorf("unexpected resources at version 1: %+v", resp)
	}

	var vaults EntityResourceVaults
	if err := client.CallContext(ctx, &vaults, "gateway_entityResourceVaults", "account_alice", "resource_xrd"); err != nil {
		t.Fatal(err)
	}
	if len(vaults.Vaults) != 1 || vaults.Vaults[0] != (Vault{VaultID: "vault_1", LastUpdatedAtStateVersion: 1}) {
		t.Errorf("unexpected vaults: %+v", vaults.Vaults)
	}

	var unknown EntityResources
	if err := client.CallContext(ctx, &unknown, "gateway_entityResources", "account_bob"); err != nil {
		t.Fatal(err)
	}
	if len(unknown.Fungible) != 0 || len(unknown.NonFungible) != 0 {
		t.Errorf("unexpected resources: %+v", unknown)
	}

	err := client.CallContext(ctx, &resp, "gateway_entityResources", "")
	if code := errorCode(err); code != (ledger.InvalidRequestError{}).ErrorCode() {
		t.Errorf("got code: %d (%v); want: %d", code, err, (ledger.InvalidRequestError{}).ErrorCode())
	}
}

func errorCode(err error) int {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}
