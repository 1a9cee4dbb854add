package txquery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/ledger/sqlstore"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/mempool"
	"github.com/vipnode/gateway/mempool/memory"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testTransaction(sv uint64, accounts ...string) ledger.Transaction {
	return ledger.Transaction{
		StateVersion:   sv,
		PayloadHash:    fmt.Sprintf("0xpayload%d", sv),
		IntentHash:     fmt.Sprintf("0xintent%d", sv),
		RoundTimestamp: t0.Add(time.Duration(sv) * time.Second),
		Epoch:          1 + sv/10,
		RoundInEpoch:   sv % 10,
		IsStartOfEpoch: sv%10 == 0,
		Success:        true,
		Accounts:       accounts,
	}
}

type fixture struct {
	store   *sqlstore.Store
	mempool mempool.Store
	querier *Querier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := sqlstore.OpenInMemory("localnet")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	states := ledgerstate.New(store, ledgerstate.DefaultConfig())
	states.Now = func() time.Time { return t0.Add(time.Minute) }
	pending := memory.New()
	q, err := New(store, states, pending, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, mempool: pending, querier: q}
}

func (f *fixture) ingest(t *testing.T, batch ...ledger.Transaction) {
	t.Helper()
	if _, err := f.store.Ingest(context.Background(), batch, batch[len(batch)-1].StateVersion); err != nil {
		t.Fatal(err)
	}
}

func stateVersions(txns []ledger.Transaction) []uint64 {
	r := make([]uint64, 0, len(txns))
	for _, tx := range txns {
		r = append(r, tx.StateVersion)
	}
	return r
}

func TestPaging(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ingest(t, testTransaction(7), testTransaction(8), testTransaction(9), testTransaction(10))
	ctx := context.Background()

	first, err := f.querier.Recent(ctx, Request{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := stateVersions(first.Items); !reflect.DeepEqual(got, []uint64{10, 9}) {
		t.Errorf("got: %v; want: [10 9]", got)
	}
	cursor, err := ParseCursor(first.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if cursor == nil || *cursor.NextPageAtAndBelowStateVersion != 8 {
		t.Fatalf("unexpected cursor: %+v", cursor)
	}

	second, err := f.querier.Recent(ctx, Request{
		AtLedgerState: ledger.AtStateVersion(first.LedgerState.StateVersion),
		Cursor:        first.NextCursor,
		Limit:         2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := stateVersions(second.Items); !reflect.DeepEqual(got, []uint64{8, 7}) {
		t.Errorf("got: %v; want: [8 7]", got)
	}
	if second.NextCursor != "" {
		t.Errorf("unexpected next cursor: %q", second.NextCursor)
	}
}

func TestPagingFromLedgerState(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ingest(t, testTransaction(7, "alice"), testTransaction(8), testTransaction(9, "alice"), testTransaction(10, "alice"))
	ctx := context.Background()

	var paged []uint64
	req := Request{FromLedgerState: ledger.AtStateVersion(8), Limit: 1}
	for i := 0; ; i++ {
		page, err := f.querier.Recent(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if page.FromLedgerState == nil || page.FromLedgerState.StateVersion != 8 {
			t.Fatalf("page %d has from ledger state %+v", i, page.FromLedgerState)
		}
		paged = append(paged, stateVersions(page.Items)...)
		if page.NextCursor == "" {
			break
		}
		req.AtLedgerState = ledger.AtStateVersion(page.LedgerState.StateVersion)
		req.Cursor = page.NextCursor
	}
	if want := []uint64{10, 9, 8}; !reflect.DeepEqual(paged, want) {
		t.Errorf("got: %v; want: %v", paged, want)
	}

	page, err := f.querier.Account(ctx, "alice", Request{FromLedgerState: ledger.AtStateVersion(8)})
	if err != nil {
		t.Fatal(err)
	}
	if got := stateVersions(page.Items); !reflect.DeepEqual(got, []uint64{10, 9}) {
		t.Errorf("got: %v; want: [10 9]", got)
	}

	// A lower bound above the page bound leaves nothing to return.
	page, err = f.querier.Recent(ctx, Request{AtLedgerState: ledger.AtStateVersion(8), FromLedgerState: ledger.AtStateVersion(9)})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 || page.NextCursor != "" {
		t.Errorf("unexpected page: %+v", page)
	}

	_, err = f.querier.Recent(ctx, Request{FromLedgerState: ledger.AtStateVersion(11)})
	var invalid ledger.InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Errorf("expected invalid request error, got: %v", err)
	}
}

func TestPagingWhileIngesting(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var batch []ledger.Transaction
	for sv := uint64(1); sv <= 20; sv++ {
		accounts := []string{"bob"}
		if sv%3 != 0 {
			accounts = []string{"alice", "bob"}
		}
		batch = append(batch, testTransaction(sv, accounts...))
	}
	f.ingest(t, batch...)

	whole, err := f.querier.Account(ctx, "alice", Request{Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	bound := ledger.AtStateVersion(whole.LedgerState.StateVersion)

	var paged []uint64
	req := Request{Limit: 3}
	for i := 0; ; i++ {
		page, err := f.querier.Account(ctx, "alice", req)
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Items) > 3 {
			t.Fatalf("page %d has %d items", i, len(page.Items))
		}
		if page.TotalCount != whole.TotalCount {
			t.Errorf("page %d total: %d; want: %d", i, page.TotalCount, whole.TotalCount)
		}
		paged = append(paged, stateVersions(page.Items)...)
		if page.NextCursor == "" {
			break
		}
		if i == 0 {
			// New commits must not leak into later pages.
			f.ingest(t, testTransaction(21, "alice"), testTransaction(22, "alice"))
		}
		req = Request{AtLedgerState: bound, Cursor: page.NextCursor, Limit: 3}
	}

	if want := stateVersions(whole.Items); !reflect.DeepEqual(paged, want) {
		t.Errorf("got: %v; want: %v", paged, want)
	}
	for i := 1; i < len(paged); i++ {
		if paged[i] >= paged[i-1] {
			t.Fatalf("pages are not strictly descending: %v", paged)
		}
	}

	latest, err := f.querier.Account(ctx, "alice", Request{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if latest.Items[0].StateVersion != 22 {
		t.Errorf("got: %d; want: 22", latest.Items[0].StateVersion)
	}
}

func TestPagingRequestErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimit = 2
	f := newFixture(t, cfg)
	f.ingest(t, testTransaction(1), testTransaction(2), testTransaction(3))
	ctx := context.Background()

	for i, req := range []Request{{Limit: -1}, {Limit: 101}, {Cursor: "not a cursor!"}, {Cursor: "bm90IGpzb24"}} {
		_, err := f.querier.Recent(ctx, req)
		var invalid ledger.InvalidRequestError
		if !errors.As(err, &invalid) {
			t.Errorf("[case %d] expected invalid request error, got: %v", i, err)
		}
	}
	if _, err := f.querier.Account(ctx, "", Request{}); err == nil {
		t.Error("expected error for missing account")
	}

	page, err := f.querier.Recent(ctx, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 {
		t.Errorf("got %d items; want the default of 2", len(page.Items))
	}

	// A cursor beyond the bound is clamped to it.
	page, err = f.querier.Recent(ctx, Request{Cursor: cursorAt(1000), Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if got := stateVersions(page.Items); !reflect.DeepEqual(got, []uint64{3, 2, 1}) {
		t.Errorf("got: %v; want: [3 2 1]", got)
	}
}

func TestCountTotal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ingest(t, testTransaction(9, "alice"), testTransaction(10, "alice"), testTransaction(11, "alice"), testTransaction(12, "bob"))
	ctx := context.Background()

	testcases := []struct {
		account string
		at      *ledger.Identifier
		want    int64
	}{
		// 10 starts an epoch.
		{"alice", nil, 2},
		{"alice", ledger.AtStateVersion(9), 1},
		{"bob", nil, 1},
		{"", nil, 3},
	}
	for i, tc := range testcases {
		got, err := f.querier.CountTotal(ctx, tc.account, tc.at)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("[case %d] got: %d; want: %d", i, got, tc.want)
		}
	}
}

func TestCommitted(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ingest(t, testTransaction(1), testTransaction(2), testTransaction(3))
	ctx := context.Background()

	for _, at := range []*ledger.Identifier{nil, ledger.AtStateVersion(1), nil} {
		r, err := f.querier.Committed(ctx, "0xintent2", at)
		if err != nil {
			t.Fatal(err)
		}
		committed := r.Transaction != nil
		if want := at == nil; committed != want {
			t.Errorf("at %+v: committed %t; want %t", at, committed, want)
		}
	}
	r, err := f.querier.Committed(ctx, "0xmissing", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Transaction != nil || r.LedgerState.StateVersion != 3 {
		t.Errorf("unexpected lookup: %+v", r)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	failedCommit := testTransaction(2)
	failedCommit.Success = false
	f.ingest(t, testTransaction(1), failedCommit)
	ctx := context.Background()

	now := t0
	for _, intent := range []string{"0xpending", "0xrejected"} {
		sub := mempool.Submission{PayloadHash: "0xpayload-" + intent, IntentHash: intent, NodeName: "node-a"}
		if _, err := f.mempool.TrackInitialSubmission(now, sub); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.mempool.MarkAsFailed("0xrejected", mempool.ReasonDoubleSpend, "input spent", now); err != nil {
		t.Fatal(err)
	}

	testcases := []struct {
		intent string
		want   Status
	}{
		{"0xintent1", StatusCommittedSuccess},
		{"0xintent2", StatusCommittedFailure},
		{"0xpending", StatusPending},
		{"0xrejected", StatusFailed},
		{"0xunknown", StatusUnknown},
	}
	for _, tc := range testcases {
		resp, err := f.querier.Status(ctx, tc.intent)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != tc.want {
			t.Errorf("[%s] got: %s; want: %s", tc.intent, resp.Status, tc.want)
		}
	}

	resp, err := f.querier.Status(ctx, "0xrejected")
	if err != nil {
		t.Fatal(err)
	}
	if resp.FailureReason != mempool.ReasonDoubleSpend || resp.SubmissionCount != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if _, err := f.querier.Status(ctx, ""); err == nil {
		t.Error("expected error for missing intent hash")
	}
}
