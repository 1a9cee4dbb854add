package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vipnode/gateway/aggregate"
	"github.com/vipnode/gateway/ledger"
)

var _ aggregate.Reader = &reader{}

const insertBatchSize = 200

// GapError is returned when an ingested batch does not continue the
// replica's ledger.
type GapError struct {
	Top  uint64
	Next uint64
}

func (err GapError) Error() string {
	return fmt.Sprintf("ingested batch starts at state version %d, expected %d", err.Next, err.Top+1)
}

// IngestResult summarizes a committed batch.
type IngestResult struct {
	TopStateVersion   uint64
	Transactions      int
	ResourceHistories int
	VaultHistories    int
	Balances          int
}

// Ingest appends a contiguous batch of committed transactions and the
// aggregate rows they produce, in a single transaction. syncTarget is the
// highest state version known to the network.
func (s *Store) Ingest(ctx context.Context, batch []ledger.Transaction, syncTarget uint64) (*IngestResult, error) {
	result := &IngestResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var status statusRow
		err := tx.Take(&status, statusRowID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			status = statusRow{ID: statusRowID}
		} else if err != nil {
			return err
		}
		status.Network = s.network
		result.TopStateVersion = status.TopStateVersion

		if len(batch) > 0 {
			if err := ingestTransactions(ctx, tx, &status, batch, result); err != nil {
				return err
			}
		}

		if syncTarget < status.TopStateVersion {
			syncTarget = status.TopStateVersion
		}
		status.SyncTargetStateVersion = syncTarget
		status.LastUpdated = time.Now().UTC()
		return tx.Save(&status).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func ingestTransactions(ctx context.Context, tx *gorm.DB, status *statusRow, batch []ledger.Transaction, result *IngestResult) error {
	next := status.TopStateVersion + 1
	if status.TopStateVersion == 0 {
		// The first batch may start anywhere.
		next = batch[0].StateVersion
	}

	rows := make([]*transactionRow, 0, len(batch))
	accounts := []*accountTransactionRow{}
	processor := aggregate.NewProcessor()
	for i := range batch {
		txn := &batch[i]
		if txn.StateVersion != next {
			return GapError{Top: next - 1, Next: txn.StateVersion}
		}
		next++

		rows = append(rows, newTransactionRow(txn))
		seen := map[string]struct{}{}
		for _, account := range txn.Accounts {
			if _, ok := seen[account]; ok {
				continue
			}
			seen[account] = struct{}{}
			accounts = append(accounts, &accountTransactionRow{
				Account:        account,
				StateVersion:   txn.StateVersion,
				IsStartOfEpoch: txn.IsStartOfEpoch,
			})
		}
		for _, change := range txn.VaultChanges {
			if err := processor.Track(txn.StateVersion, change); err != nil {
				return fmt.Errorf("state version %d: %w", txn.StateVersion, err)
			}
		}
	}

	if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return err
	}
	if len(accounts) > 0 {
		if err := tx.CreateInBatches(accounts, insertBatchSize).Error; err != nil {
			return err
		}
	}

	if processor.Len() > 0 {
		if err := processor.Load(ctx, aggregateStore{tx}); err != nil {
			return err
		}
		if err := persistAggregates(tx, processor.Process(), result); err != nil {
			return err
		}
	}

	status.TopStateVersion = batch[len(batch)-1].StateVersion
	result.TopStateVersion = status.TopStateVersion
	result.Transactions = len(batch)
	return nil
}

func persistAggregates(tx *gorm.DB, r *aggregate.Result, result *IngestResult) error {
	if r.IsEmpty() {
		return nil
	}
	resources := make([]*resourceHistoryRow, 0, len(r.ResourceHistories))
	for _, h := range r.ResourceHistories {
		resources = append(resources, newResourceHistoryRow(h))
	}
	vaults := make([]*vaultHistoryRow, 0, len(r.VaultHistories))
	for _, h := range r.VaultHistories {
		vaults = append(vaults, newVaultHistoryRow(h))
	}
	balances := make([]*balanceRow, 0, len(r.Balances))
	for _, b := range r.Balances {
		balances = append(balances, newBalanceRow(b))
	}

	if len(resources) > 0 {
		if err := tx.CreateInBatches(resources, insertBatchSize).Error; err != nil {
			return err
		}
	}
	if len(vaults) > 0 {
		if err := tx.CreateInBatches(vaults, insertBatchSize).Error; err != nil {
			return err
		}
	}
	if len(balances) > 0 {
		if err := tx.CreateInBatches(balances, insertBatchSize).Error; err != nil {
			return err
		}
	}
	result.ResourceHistories = len(resources)
	result.VaultHistories = len(vaults)
	result.Balances = len(balances)
	logger.Debugf("Persisted aggregates: %d resource histories, %d vault histories, %d balances", len(resources), len(vaults), len(balances))
	return nil
}
