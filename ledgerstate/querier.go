// Package ledgerstate resolves the ledger state that a request is served
// at, and enforces how far behind the read replica may be.
package ledgerstate

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/metrics"
)

// Config is the staleness policy.
type Config struct {
	// ReadLagThreshold is the maximum age of the resolved round timestamp
	// for read requests.
	ReadLagThreshold time.Duration
	// ConstructionLagThreshold is the same for transaction construction.
	ConstructionLagThreshold time.Duration
	// PreventReadIfNotSynced fails stale reads instead of warning.
	PreventReadIfNotSynced bool
	// PreventConstructionIfNotSynced fails stale construction instead of
	// warning.
	PreventConstructionIfNotSynced bool
}

// DefaultConfig returns the default staleness policy.
func DefaultConfig() Config {
	return Config{
		ReadLagThreshold:               720 * time.Second,
		ConstructionLagThreshold:       60 * time.Second,
		PreventReadIfNotSynced:         true,
		PreventConstructionIfNotSynced: true,
	}
}

// Status is the current top of the replica and what it is syncing towards.
type Status struct {
	LedgerState        *ledger.State `json:"ledger_state"`
	TargetStateVersion uint64        `json:"target_state_version"`
}

// Querier resolves ledger states against the read replica. The top of the
// ledger it returns never moves backwards, even if a replica answers with
// an older top.
type Querier struct {
	// Now is the clock used for staleness checks. (Optional)
	Now func() time.Time

	store   ledger.Store
	cfg     Config
	metrics *metrics.GatewayMetrics
	top     *atomic.Pointer[ledger.State]
}

// New returns a Querier over store.
func New(store ledger.Store, cfg Config) *Querier {
	return &Querier{
		store: store,
		cfg:   cfg,
		top:   atomic.NewPointer[ledger.State](nil),
	}
}

// WithMetrics reports the clock lag of resolved states to m.
func (q *Querier) WithMetrics(m *metrics.GatewayMetrics) *Querier {
	q.metrics = m
	return q
}

func (q *Querier) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// observeTop returns the highest top seen so far, including s.
func (q *Querier) observeTop(s *ledger.State) *ledger.State {
	for {
		cur := q.top.Load()
		if cur != nil && cur.StateVersion >= s.StateVersion {
			return cur
		}
		if q.top.CompareAndSwap(cur, s) {
			return s
		}
	}
}

func (q *Querier) topIn(ctx context.Context, r ledger.Reader) (*ledger.State, error) {
	tx, err := r.Top(ctx)
	if err != nil {
		return nil, err
	}
	return q.observeTop(tx.State(r.Network())), nil
}

// Top returns the top of the ledger, without a staleness check.
func (q *Querier) Top(ctx context.Context) (*ledger.State, error) {
	var state *ledger.State
	err := q.store.View(ctx, func(r ledger.Reader) error {
		var err error
		state, err = q.topIn(ctx, r)
		return err
	})
	return state, err
}

// TopStateVersion returns the state version of the top of the ledger.
func (q *Querier) TopStateVersion(ctx context.Context) (uint64, error) {
	state, err := q.Top(ctx)
	if err != nil {
		return 0, err
	}
	return state.StateVersion, nil
}

// Status returns the top of the ledger and the ingestion sync target.
func (q *Querier) Status(ctx context.Context) (*Status, error) {
	var status Status
	err := q.store.View(ctx, func(r ledger.Reader) error {
		top, err := q.topIn(ctx, r)
		if err != nil {
			return err
		}
		progress, err := r.Status(ctx)
		if err != nil {
			return err
		}
		status.LedgerState = top
		status.TargetStateVersion = progress.SyncTargetStateVersion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// ResolveForRead resolves id to the last state at or before it, applying
// the read staleness policy. A nil id resolves to the top of the ledger.
func (q *Querier) ResolveForRead(ctx context.Context, id *ledger.Identifier) (*ledger.State, error) {
	var state *ledger.State
	err := q.store.View(ctx, func(r ledger.Reader) error {
		var err error
		state, err = q.ResolveForReadIn(ctx, r, id)
		return err
	})
	return state, err
}

// ResolveForReadIn is ResolveForRead against an open snapshot.
func (q *Querier) ResolveForReadIn(ctx context.Context, r ledger.Reader, id *ledger.Identifier) (*ledger.State, error) {
	return q.resolveChecked(ctx, r, id, ledger.RequestRead, q.cfg.ReadLagThreshold, q.cfg.PreventReadIfNotSynced)
}

// ResolveForConstruction is ResolveForRead with the construction staleness
// policy.
func (q *Querier) ResolveForConstruction(ctx context.Context, id *ledger.Identifier) (*ledger.State, error) {
	var state *ledger.State
	err := q.store.View(ctx, func(r ledger.Reader) error {
		var err error
		state, err = q.resolveChecked(ctx, r, id, ledger.RequestConstruction, q.cfg.ConstructionLagThreshold, q.cfg.PreventConstructionIfNotSynced)
		return err
	})
	return state, err
}

// TopForConstruction returns the top of the ledger, checked against the
// construction staleness policy.
func (q *Querier) TopForConstruction(ctx context.Context) (*ledger.State, error) {
	top, err := q.Top(ctx)
	if err != nil {
		return nil, err
	}
	return q.ResolveForConstruction(ctx, ledger.AtStateVersion(top.StateVersion))
}

// ResolveForward resolves id to the first state at or after it. A nil id
// resolves to nil.
func (q *Querier) ResolveForward(ctx context.Context, id *ledger.Identifier) (*ledger.State, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	var state *ledger.State
	err := q.store.View(ctx, func(r ledger.Reader) error {
		var err error
		state, err = q.ResolveForwardIn(ctx, r, id)
		return err
	})
	return state, err
}

// ResolveForwardIn is ResolveForward against an open snapshot.
func (q *Querier) ResolveForwardIn(ctx context.Context, r ledger.Reader, id *ledger.Identifier) (*ledger.State, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	tx, err := resolveForward(ctx, r, id)
	if err != nil {
		return nil, err
	}
	return tx.State(r.Network()), nil
}

func (q *Querier) resolveChecked(ctx context.Context, r ledger.Reader, id *ledger.Identifier, kind ledger.RequestType, threshold time.Duration, prevent bool) (*ledger.State, error) {
	if id.IsEmpty() {
		return q.topIn(ctx, r)
	}
	tx, err := resolveBackward(ctx, r, id)
	if err != nil {
		return nil, err
	}
	state := tx.State(r.Network())

	lag := q.now().Sub(state.RoundTimestamp)
	q.metrics.SetLedgerClockLag(lag.Seconds())
	if lag <= threshold {
		return state, nil
	}
	if prevent {
		return nil, ledger.NotSyncedUpError{RequestType: kind, Lag: lag, Threshold: threshold}
	}
	logger.Warningf("The read replica is %s behind, the %s request will not be up to date with the current ledger", lag.Round(time.Second), kind)
	return state, nil
}
