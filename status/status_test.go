package status

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/mempool"
	"github.com/vipnode/gateway/mempool/memory"
	"github.com/vipnode/gateway/nodepool"
)

func compareJSON(t *testing.T, got, want interface{}) {
	t.Helper()

	gotBytes, err := json.Marshal(got)
	if err != nil {
		t.Errorf("compareJSON: failed to marshal got value: %s", err)
		return
	}
	wantBytes, err := json.Marshal(want)
	if err != nil {
		t.Errorf("compareJSON: failed to marshal want value: %s", err)
		return
	}

	if !bytes.Equal(gotBytes, wantBytes) {
		t.Errorf("compareJSON failed:\n got: %s\nwant: %s", gotBytes, wantBytes)
	}
}

type fakeNodes struct {
	health []nodepool.NodeHealth
}

func (n *fakeNodes) Tier() nodepool.Status { return nodepool.HealthyAndSynced }

func (n *fakeNodes) Statuses() []nodepool.NodeHealth { return n.health }

type fakeLedger struct {
	status *ledgerstate.Status
}

func (l *fakeLedger) Status(ctx context.Context) (*ledgerstate.Status, error) {
	if l.status == nil {
		return nil, ledger.ErrNoTransactions
	}
	return l.status, nil
}

func TestGatewayStatus(t *testing.T) {
	now := time.Now()
	nodes := &fakeNodes{health: []nodepool.NodeHealth{{Name: "A", Status: nodepool.HealthyAndSynced, StateVersion: 10, InPool: true}}}
	replica := &fakeLedger{}
	s := GatewayStatus{
		Network:       "localnet",
		Nodes:         nodes,
		Ledger:        replica,
		Mempool:       memory.New(),
		TimeStarted:   now,
		Version:       "foo",
		CacheDuration: time.Minute * 10,
	}

	r, err := s.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expected := &Response{
		TimeUpdated: r.TimeUpdated,
		TimeStarted: now,
		Version:     "foo",
		Network:     "localnet",
		PoolTier:    nodepool.HealthyAndSynced,
		Nodes:       nodes.health,
		Mempool:     &mempool.Stats{},
	}
	compareJSON(t, r, expected)

	if _, err := s.Mempool.TrackInitialSubmission(now, mempool.Submission{IntentHash: "0xintent1", PayloadHash: "0xpayload1"}); err != nil {
		t.Fatal(err)
	}
	replica.status = &ledgerstate.Status{
		LedgerState:        &ledger.State{Network: "localnet", StateVersion: 10, RoundTimestamp: now.UTC()},
		TargetStateVersion: 12,
	}

	// Get cached response again
	r, err = s.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	compareJSON(t, r, expected)

	// Disable cache and try again
	s.CacheDuration = 0
	r, err = s.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expected.TimeUpdated = r.TimeUpdated
	expected.Mempool = &mempool.Stats{NumPending: 1}
	expected.Ledger = replica.status
	compareJSON(t, r, expected)
}
