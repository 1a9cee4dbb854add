package sqlstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vipnode/gateway/ledger"
)

var _ ledger.Reader = &reader{}

type reader struct {
	db      *gorm.DB
	network string
}

func (r *reader) Network() string {
	return r.network
}

// first runs q and returns the single matching transaction, or nil.
func first(q *gorm.DB) (*ledger.Transaction, error) {
	var row transactionRow
	err := q.Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return row.transaction(), nil
}

func (r *reader) transactions(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&transactionRow{})
}

func (r *reader) Status(ctx context.Context) (*ledger.Status, error) {
	var row statusRow
	err := r.db.WithContext(ctx).Take(&row, statusRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ledger.Status{}, nil
	} else if err != nil {
		return nil, err
	}
	return &ledger.Status{
		TopStateVersion:        row.TopStateVersion,
		SyncTargetStateVersion: row.SyncTargetStateVersion,
		LastUpdated:            row.LastUpdated,
	}, nil
}

func (r *reader) Top(ctx context.Context) (*ledger.Transaction, error) {
	tx, err := first(r.transactions(ctx).Order("state_version desc"))
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ledger.ErrNoTransactions
	}
	return tx, nil
}

func (r *reader) AtStateVersion(ctx context.Context, v uint64) (*ledger.Transaction, error) {
	return first(r.transactions(ctx).Where("state_version = ?", v))
}

func (r *reader) LastAtOrBefore(ctx context.Context, t time.Time) (*ledger.Transaction, error) {
	return first(r.transactions(ctx).Where("round_timestamp <= ?", t.UTC()).Order("state_version desc"))
}

func (r *reader) FirstAtOrAfter(ctx context.Context, t time.Time) (*ledger.Transaction, error) {
	return first(r.transactions(ctx).Where("round_timestamp >= ?", t.UTC()).Order("state_version asc"))
}

func (r *reader) AtEpochRound(ctx context.Context, epoch, round uint64) (*ledger.Transaction, error) {
	return first(r.transactions(ctx).Where("epoch = ? AND round_in_epoch = ?", epoch, round).Order("state_version asc"))
}

func (r *reader) AtEpochStart(ctx context.Context, epoch uint64) (*ledger.Transaction, error) {
	return first(r.transactions(ctx).Where("epoch = ?", epoch).Order("state_version asc"))
}

func (r *reader) StateVersions(ctx context.Context, account string, atOrAbove, atOrBelow uint64, limit int) ([]uint64, error) {
	q := r.transactions(ctx)
	if account != "" {
		q = r.db.WithContext(ctx).Model(&accountTransactionRow{}).Where("account = ?", account)
	}
	versions := []uint64{}
	err := q.Where("state_version BETWEEN ? AND ?", atOrAbove, atOrBelow).
		Order("state_version desc").
		Limit(limit).
		Pluck("state_version", &versions).Error
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *reader) Transactions(ctx context.Context, versions []uint64) ([]ledger.Transaction, error) {
	if len(versions) == 0 {
		return []ledger.Transaction{}, nil
	}
	var rows []transactionRow
	if err := r.transactions(ctx).Where("state_version IN ?", versions).Find(&rows).Error; err != nil {
		return nil, err
	}
	byVersion := make(map[uint64]*transactionRow, len(rows))
	for i := range rows {
		byVersion[rows[i].StateVersion] = &rows[i]
	}
	txns := make([]ledger.Transaction, 0, len(versions))
	for _, v := range versions {
		if row, ok := byVersion[v]; ok {
			txns = append(txns, *row.transaction())
		}
	}
	return txns, nil
}

func (r *reader) CountAccountTransactions(ctx context.Context, account string, atOrBelow uint64) (int64, error) {
	q := r.transactions(ctx)
	if account != "" {
		q = r.db.WithContext(ctx).Model(&accountTransactionRow{}).Where("account = ?", account)
	}
	var n int64
	err := q.Where("state_version <= ? AND is_start_of_epoch = ?", atOrBelow, false).Count(&n).Error
	return n, err
}

func (r *reader) ByIntentHash(ctx context.Context, intentHash string, atOrBelow uint64) (*ledger.Transaction, error) {
	return first(r.transactions(ctx).Where("intent_hash = ? AND state_version <= ?", intentHash, atOrBelow).Order("state_version desc"))
}
