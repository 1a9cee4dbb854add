package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"github.com/vipnode/gateway/aggregate"
	"github.com/vipnode/gateway/ledger"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testTransaction(sv, epoch, round uint64, accounts ...string) ledger.Transaction {
	return ledger.Transaction{
		StateVersion:   sv,
		PayloadHash:    fmt.Sprintf("0xpayload%d", sv),
		IntentHash:     fmt.Sprintf("0xintent%d", sv),
		RoundTimestamp: t0.Add(time.Duration(sv) * time.Second),
		Epoch:          epoch,
		RoundInEpoch:   round,
		IsStartOfEpoch: round == 0,
		Success:        true,
		Accounts:       accounts,
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory("localnet")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func view(t *testing.T, s *Store, fn func(r ledger.Reader) error) {
	t.Helper()
	if err := s.View(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func TestEmptyStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	view(t, s, func(r ledger.Reader) error {
		if _, err := r.Top(ctx); err != ledger.ErrNoTransactions {
			t.Errorf("expected no transactions error, got: %v", err)
		}
		status, err := r.Status(ctx)
		if err != nil {
			return err
		}
		if *status != (ledger.Status{}) {
			t.Errorf("unexpected status: %+v", status)
		}
		if r.Network() != "localnet" {
			t.Errorf("got: %s; want: localnet", r.Network())
		}
		return nil
	})
}

func TestReader(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := []ledger.Transaction{
		testTransaction(1, 1, 0),
		testTransaction(2, 1, 1, "alice"),
		testTransaction(3, 1, 1, "alice", "bob", "alice"),
		testTransaction(4, 2, 0, "alice"),
		testTransaction(5, 2, 1, "bob"),
	}
	result, err := s.Ingest(ctx, batch, 10)
	if err != nil {
		t.Fatal(err)
	}
	if result.TopStateVersion != 5 || result.Transactions != 5 {
		t.Errorf("unexpected result: %+v", result)
	}

	stateVersion := func(tx *ledger.Transaction) int {
		if tx == nil {
			return -1
		}
		return int(tx.StateVersion)
	}

	view(t, s, func(r ledger.Reader) error {
		status, err := r.Status(ctx)
		if err != nil {
			return err
		}
		if status.TopStateVersion != 5 || status.SyncTargetStateVersion != 10 {
			t.Errorf("unexpected status: %+v", status)
		}

		lookups := []struct {
			name   string
			lookup func() (*ledger.Transaction, error)
			want   int
		}{
			{"top", func() (*ledger.Transaction, error) { return r.Top(ctx) }, 5},
			{"at 3", func() (*ledger.Transaction, error) { return r.AtStateVersion(ctx, 3) }, 3},
			{"at 9", func() (*ledger.Transaction, error) { return r.AtStateVersion(ctx, 9) }, -1},
			{"last before 3.5s", func() (*ledger.Transaction, error) { return r.LastAtOrBefore(ctx, t0.Add(3500*time.Millisecond)) }, 3},
			{"last before 3s", func() (*ledger.Transaction, error) { return r.LastAtOrBefore(ctx, t0.Add(3*time.Second)) }, 3},
			{"last before start", func() (*ledger.Transaction, error) { return r.LastAtOrBefore(ctx, t0) }, -1},
			{"first after 3.5s", func() (*ledger.Transaction, error) { return r.FirstAtOrAfter(ctx, t0.Add(3500*time.Millisecond)) }, 4},
			{"first after end", func() (*ledger.Transaction, error) { return r.FirstAtOrAfter(ctx, t0.Add(10*time.Second)) }, -1},
			{"epoch 2", func() (*ledger.Transaction, error) { return r.AtEpochStart(ctx, 2) }, 4},
			{"epoch 3", func() (*ledger.Transaction, error) { return r.AtEpochStart(ctx, 3) }, -1},
			{"epoch 1 round 1", func() (*ledger.Transaction, error) { return r.AtEpochRound(ctx, 1, 1) }, 2},
			{"intent 3", func() (*ledger.Transaction, error) { return r.ByIntentHash(ctx, "0xintent3", 5) }, 3},
			{"intent 3 below 2", func() (*ledger.Transaction, error) { return r.ByIntentHash(ctx, "0xintent3", 2) }, -1},
		}
		for _, tc := range lookups {
			tx, err := tc.lookup()
			if err != nil {
				t.Errorf("[%s] unexpected error: %v", tc.name, err)
				continue
			}
			if got := stateVersion(tx); got != tc.want {
				t.Errorf("[%s] got: %d; want: %d", tc.name, got, tc.want)
			}
		}

		versions := []struct {
			account   string
			atOrAbove uint64
			atOrBelow uint64
			limit     int
			want      []uint64
		}{
			{"", 0, 5, 3, []uint64{5, 4, 3}},
			{"", 0, 2, 10, []uint64{2, 1}},
			{"", 3, 5, 10, []uint64{5, 4, 3}},
			{"", 4, 3, 10, []uint64{}},
			{"alice", 0, 5, 10, []uint64{4, 3, 2}},
			{"alice", 0, 3, 10, []uint64{3, 2}},
			{"alice", 3, 5, 10, []uint64{4, 3}},
			{"carol", 0, 5, 10, []uint64{}},
		}
		for i, tc := range versions {
			got, err := r.StateVersions(ctx, tc.account, tc.atOrAbove, tc.atOrBelow, tc.limit)
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("[case %d] got: %v; want: %v", i, got, tc.want)
			}
		}

		counts := []struct {
			account string
			want    int64
		}{
			{"alice", 2},
			{"bob", 2},
			{"", 3},
		}
		for _, tc := range counts {
			got, err := r.CountAccountTransactions(ctx, tc.account, 5)
			if err != nil {
				return err
			}
			if got != tc.want {
				t.Errorf("[%q] got: %d; want: %d", tc.account, got, tc.want)
			}
		}

		txns, err := r.Transactions(ctx, []uint64{5, 2, 9})
		if err != nil {
			return err
		}
		if len(txns) != 2 || txns[0].StateVersion != 5 || txns[1].StateVersion != 2 {
			t.Errorf("unexpected transactions: %+v", txns)
		}
		if !txns[1].RoundTimestamp.Equal(t0.Add(2 * time.Second)) {
			t.Errorf("got: %s; want: %s", txns[1].RoundTimestamp, t0.Add(2*time.Second))
		}
		if !reflect.DeepEqual(txns[1].Accounts, []string{"alice"}) {
			t.Errorf("got: %v; want: [alice]", txns[1].Accounts)
		}
		return nil
	})
}

func TestIngestGap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Ingest(ctx, []ledger.Transaction{testTransaction(7, 1, 0), testTransaction(8, 1, 1)}, 8); err != nil {
		t.Fatal(err)
	}
	_, err := s.Ingest(ctx, []ledger.Transaction{testTransaction(10, 1, 2)}, 10)
	var gapErr GapError
	if !errors.As(err, &gapErr) {
		t.Fatalf("expected gap error, got: %v", err)
	}
	if gapErr.Top != 8 || gapErr.Next != 10 {
		t.Errorf("unexpected gap: %+v", gapErr)
	}

	// The failed batch left nothing behind.
	view(t, s, func(r ledger.Reader) error {
		top, err := r.Top(ctx)
		if err != nil {
			return err
		}
		if top.StateVersion != 8 {
			t.Errorf("got: %d; want: 8", top.StateVersion)
		}
		return nil
	})

	// An empty batch only moves the sync target.
	if _, err := s.Ingest(ctx, nil, 20); err != nil {
		t.Fatal(err)
	}
	view(t, s, func(r ledger.Reader) error {
		status, err := r.Status(ctx)
		if err != nil {
			return err
		}
		if status.TopStateVersion != 8 || status.SyncTargetStateVersion != 20 {
			t.Errorf("unexpected status: %+v", status)
		}
		return nil
	})
}

func withChanges(tx ledger.Transaction, changes ...ledger.VaultChange) ledger.Transaction {
	tx.VaultChanges = changes
	return tx
}

func TestIngestAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []ledger.Transaction{
		withChanges(testTransaction(1, 1, 0),
			ledger.VaultChange{EntityID: "acc1", VaultID: "v1", ResourceID: "xrd", Fungible: true, Delta: "100"}),
		withChanges(testTransaction(2, 1, 1),
			ledger.VaultChange{EntityID: "acc1", ParentEntityID: "comp1", VaultID: "v2", ResourceID: "nft", Delta: "2"}),
	}
	result, err := s.Ingest(ctx, first, 2)
	if err != nil {
		t.Fatal(err)
	}
	if result.ResourceHistories != 3 || result.VaultHistories != 3 || result.Balances != 3 {
		t.Errorf("unexpected result: %+v", result)
	}

	second := []ledger.Transaction{
		withChanges(testTransaction(3, 1, 2),
			ledger.VaultChange{EntityID: "acc1", VaultID: "v1", ResourceID: "xrd", Fungible: true, Delta: "-30"}),
	}
	result, err = s.Ingest(ctx, second, 3)
	if err != nil {
		t.Fatal(err)
	}
	if result.ResourceHistories != 0 || result.VaultHistories != 0 || result.Balances != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	view(t, s, func(r ledger.Reader) error {
		ar, ok := r.(aggregate.Reader)
		if !ok {
			t.Fatal("reader does not serve aggregates")
		}

		h, err := ar.ResourceHistoryAt(ctx, "acc1", 3)
		if err != nil {
			return err
		}
		if h.FromStateVersion != 2 {
			t.Errorf("got: %d; want: 2", h.FromStateVersion)
		}
		if want := (aggregate.List{IDs: []string{"xrd"}, Versions: []uint64{1}}); !reflect.DeepEqual(h.Fungible, want) {
			t.Errorf("got: %+v; want: %+v", h.Fungible, want)
		}
		if want := (aggregate.List{IDs: []string{"nft"}, Versions: []uint64{2}}); !reflect.DeepEqual(h.NonFungible, want) {
			t.Errorf("got: %+v; want: %+v", h.NonFungible, want)
		}

		h, err = ar.ResourceHistoryAt(ctx, "acc1", 1)
		if err != nil {
			return err
		}
		if h.FromStateVersion != 1 || h.NonFungible.Len() != 0 {
			t.Errorf("unexpected history at 1: %+v", h)
		}
		if h, err := ar.ResourceHistoryAt(ctx, "acc1", 0); err != nil || h != nil {
			t.Errorf("expected no history before the first change, got: %+v, %v", h, err)
		}
		if h, err := ar.ResourceHistoryAt(ctx, "comp1", 3); err != nil || h == nil || h.NonFungible.IDs[0] != "nft" {
			t.Errorf("expected parent to track nft, got: %+v, %v", h, err)
		}

		vh, err := ar.VaultHistoryAt(ctx, "acc1", "xrd", 3)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(vh.Vaults.IDs, []string{"v1"}) || vh.FromStateVersion != 1 {
			t.Errorf("unexpected vault history: %+v", vh)
		}

		balances := []struct {
			entity, resource string
			at               uint64
			want             string
		}{
			{"acc1", "xrd", 3, "70"},
			{"acc1", "xrd", 2, "100"},
			{"acc1", "nft", 3, "2"},
			{"comp1", "nft", 3, "2"},
		}
		for i, tc := range balances {
			got, err := ar.BalancesAt(ctx, tc.entity, []string{tc.resource, "missing"}, tc.at)
			if err != nil {
				return err
			}
			if len(got) != 1 || got[tc.resource].Balance.String() != tc.want {
				t.Errorf("[case %d] got: %v; want: %s", i, got, tc.want)
			}
		}
		return nil
	})
}

func TestNetworkMismatch(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := Open(sqlite.Open(dsn), "localnet")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Ingest(context.Background(), []ledger.Transaction{testTransaction(1, 1, 0)}, 1); err != nil {
		t.Fatal(err)
	}

	_, err = Open(sqlite.Open(dsn), "mainnet")
	var mismatch NetworkMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected network mismatch error, got: %v", err)
	}
	if mismatch.Stored != "localnet" {
		t.Errorf("got: %s; want: localnet", mismatch.Stored)
	}
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverSQLite, ""} {
		if _, err := Dialector(driver, "dsn"); err != nil {
			t.Errorf("[%q] unexpected error: %v", driver, err)
		}
	}
	if _, err := Dialector("oracle", "dsn"); err == nil {
		t.Error("expected unsupported driver error")
	}
}
