// Package ingest copies committed transactions from Core nodes into the
// read replica.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/ledger/sqlstore"
	"github.com/vipnode/gateway/mempool"
	"github.com/vipnode/gateway/metrics"
	"github.com/vipnode/gateway/nodepool"
)

// Config controls the ingestion loop.
type Config struct {
	// Interval is the wait between fetches once the replica caught up.
	Interval time.Duration
	// BatchSize is the number of transactions fetched and committed at once.
	BatchSize int
	// FetchTimeout bounds each request to a node.
	FetchTimeout time.Duration
}

// DefaultConfig returns the default ingestion settings.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Second,
		BatchSize:    1000,
		FetchTimeout: 10 * time.Second,
	}
}

// Picker chooses the node to fetch from.
type Picker interface {
	Pick() (*nodepool.Member, error)
}

// Replica is the read replica that batches are committed to.
type Replica interface {
	ledger.Store
	Network() string
	Ingest(ctx context.Context, batch []ledger.Transaction, syncTarget uint64) (*sqlstore.IngestResult, error)
}

// Ingester is the single writer of the read replica.
type Ingester struct {
	pool    Picker
	replica Replica
	mempool mempool.Store
	cfg     Config
	metrics *metrics.GatewayMetrics

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	waitCh  chan error
}

// New returns an Ingester. Tracked transactions in pending are marked
// committed as they are ingested; pending may be nil.
func New(pool Picker, replica Replica, pending mempool.Store, cfg Config) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Ingester{
		pool:    pool,
		replica: replica,
		mempool: pending,
		cfg:     cfg,
	}
}

// WithMetrics reports committed batches to m.
func (ing *Ingester) WithMetrics(m *metrics.GatewayMetrics) *Ingester {
	ing.metrics = m
	return ing
}

func (ing *Ingester) top(ctx context.Context) (uint64, error) {
	var top uint64
	err := ing.replica.View(ctx, func(r ledger.Reader) error {
		status, err := r.Status(ctx)
		if err != nil {
			return err
		}
		top = status.TopStateVersion
		return nil
	})
	return top, err
}

// IngestOnce fetches and commits the next batch after the replica's top.
// It returns the number of transactions committed.
func (ing *Ingester) IngestOnce(ctx context.Context) (int, error) {
	top, err := ing.top(ctx)
	if err != nil {
		return 0, err
	}
	member, err := ing.pool.Pick()
	if err != nil {
		return 0, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, ing.cfg.FetchTimeout)
	defer cancel()
	node, err := member.API(fetchCtx)
	if err != nil {
		return 0, err
	}
	status, err := node.NetworkStatus(fetchCtx)
	if err != nil {
		return 0, fmt.Errorf("node %s: %w", member.Name, err)
	}
	if status.Network != "" && status.Network != ing.replica.Network() {
		return 0, fmt.Errorf("node %s serves network %q, not %q", member.Name, status.Network, ing.replica.Network())
	}
	committed, err := node.CommittedTransactions(fetchCtx, top+1, ing.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("node %s: %w", member.Name, err)
	}

	batch := make([]ledger.Transaction, 0, len(committed))
	for _, txn := range committed {
		batch = append(batch, fromCore(txn))
	}
	result, err := ing.replica.Ingest(ctx, batch, status.StateVersion)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	ing.metrics.ObserveIngest(result.TopStateVersion, result.Transactions)
	logger.Debugf("Ingested state versions %d to %d from node %s (network at %d)", batch[0].StateVersion, result.TopStateVersion, member.Name, status.StateVersion)

	ing.markCommitted(batch)
	return result.Transactions, nil
}

func (ing *Ingester) markCommitted(batch []ledger.Transaction) {
	if ing.mempool == nil {
		return
	}
	now := time.Now()
	for _, tx := range batch {
		if tx.IntentHash == "" {
			continue
		}
		err := ing.mempool.MarkCommitted(tx.IntentHash, tx.StateVersion, now)
		if err != nil && !errors.Is(err, mempool.ErrNotFound) {
			logger.Warningf("Failed to mark transaction %s as committed: %s", tx.IntentHash, err)
		}
	}
}

func fromCore(txn coreapi.CommittedTransaction) ledger.Transaction {
	changes := make([]ledger.VaultChange, 0, len(txn.VaultChanges))
	for _, c := range txn.VaultChanges {
		changes = append(changes, ledger.VaultChange{
			EntityID:       c.EntityID,
			ParentEntityID: c.ParentEntityID,
			VaultID:        c.VaultID,
			ResourceID:     c.ResourceID,
			Fungible:       c.Fungible,
			Delta:          c.Delta,
		})
	}
	return ledger.Transaction{
		StateVersion:   txn.StateVersion,
		PayloadHash:    txn.PayloadHash,
		IntentHash:     txn.IntentHash,
		RoundTimestamp: txn.RoundTimestamp,
		Epoch:          txn.Epoch,
		RoundInEpoch:   txn.RoundInEpoch,
		IsStartOfEpoch: txn.IsStartOfEpoch,
		Success:        txn.Success,
		Accounts:       txn.Accounts,
		VaultChanges:   changes,
	}
}

// Start begins ingesting in the background until Stop is called.
func (ing *Ingester) Start(ctx context.Context) error {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if ing.started {
		return errors.New("ingester already started")
	}
	ing.started = true
	ing.stopCh = make(chan struct{})
	ing.waitCh = make(chan error, 1)

	go func() {
		ing.waitCh <- ing.serve(ctx)
	}()
	return nil
}

// Stop ends the ingestion loop.
func (ing *Ingester) Stop() {
	ing.stopCh <- struct{}{}
}

// Wait blocks until the ingestion loop ends.
func (ing *Ingester) Wait() error {
	return <-ing.waitCh
}

func (ing *Ingester) serve(ctx context.Context) error {
	defer func() {
		ing.mu.Lock()
		ing.started = false
		ing.mu.Unlock()
	}()
	interval := ing.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			n, err := ing.IngestOnce(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warningf("Ingestion failed: %s", err)
			}
			// A full batch means there is more to catch up on.
			if n >= ing.cfg.BatchSize {
				timer.Reset(0)
			} else {
				timer.Reset(interval)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-ing.stopCh:
			return nil
		}
	}
}
