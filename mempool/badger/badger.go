package badger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/sethvargo/go-retry"

	"github.com/vipnode/gateway/mempool"
)

const (
	keyVersion    = "gw:version"
	prefixTx      = "gw:tx:"
	prefixPending = "gw:pending:"
)

// DefaultCommittedTTL is how long committed records are kept before badger
// expires them, in case PruneCommitted is never called.
const DefaultCommittedTTL = 10 * time.Minute

const maxConflictRetries = 64

func txKey(intentHash string) []byte {
	return []byte(prefixTx + intentHash)
}

func pendingKey(intentHash string) []byte {
	return []byte(prefixPending + intentHash)
}

// Open returns a mempool.Store implementation using Badger as the storage
// driver. The database is migrated to the latest version. The store should
// be .Close()'d after use.
func Open(opts badger.Options) (*badgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := MigrateLatest(db, opts.Dir); err != nil {
		db.Close()
		return nil, err
	}
	return &badgerStore{db: db, CommittedTTL: DefaultCommittedTTL}, nil
}

var _ mempool.Store = &badgerStore{}

type badgerStore struct {
	db *badger.DB

	// CommittedTTL expires committed records. Zero keeps them until pruned.
	CommittedTTL time.Duration
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a serializable read-write transaction, retrying it when
// a concurrent transaction touched the same keys. fn may run more than once.
func (s *badgerStore) update(fn func(txn *badger.Txn) error) error {
	backoff := retry.WithMaxRetries(maxConflictRetries,
		retry.WithCappedDuration(20*time.Millisecond,
			retry.WithJitterPercent(50, retry.NewExponential(time.Millisecond))))
	return retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func getTx(txn *badger.Txn, intentHash string) (*mempool.Transaction, error) {
	var tx mempool.Transaction
	if err := getItem(txn, txKey(intentHash), &tx); err == badger.ErrKeyNotFound {
		return nil, mempool.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *badgerStore) putTx(txn *badger.Txn, tx *mempool.Transaction) error {
	if tx.Status == mempool.StatusPending {
		if err := txn.Set(pendingKey(tx.IntentHash), nil); err != nil {
			return err
		}
	} else if err := txn.Delete(pendingKey(tx.IntentHash)); err != nil {
		return err
	}
	if tx.Status == mempool.StatusCommitted && s.CommittedTTL > 0 {
		return setExpiringItem(txn, txKey(tx.IntentHash), tx, s.CommittedTTL)
	}
	return setItem(txn, txKey(tx.IntentHash), tx)
}

func (s *badgerStore) TrackInitialSubmission(now time.Time, sub mempool.Submission) (mempool.TrackGuidance, error) {
	if sub.IntentHash == "" || sub.PayloadHash == "" {
		return mempool.TrackGuidance{}, mempool.ErrMalformedSubmission
	}

	var guidance mempool.TrackGuidance
	err := s.update(func(txn *badger.Txn) error {
		tx, err := getTx(txn, sub.IntentHash)
		if err == mempool.ErrNotFound {
			created := mempool.NewTransaction(now, sub)
			guidance = mempool.TrackGuidance{ShouldSubmitToNode: true}
			return s.putTx(txn, &created)
		} else if err != nil {
			return err
		}
		guidance = tx.Guidance(now)
		return s.putTx(txn, tx)
	})
	if err != nil {
		return mempool.TrackGuidance{}, err
	}
	return guidance, nil
}

// modify loads a tracked transaction, applies fn and saves it.
func (s *badgerStore) modify(intentHash string, fn func(tx *mempool.Transaction) error) error {
	return s.update(func(txn *badger.Txn) error {
		tx, err := getTx(txn, intentHash)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		return s.putTx(txn, tx)
	})
}

func (s *badgerStore) MarkAsFailed(intentHash string, reason mempool.FailureReason, explanation string, now time.Time) error {
	return s.modify(intentHash, func(tx *mempool.Transaction) error {
		tx.Status = mempool.StatusFailed
		tx.FailureReason = reason
		tx.FailureExplanation = explanation
		return nil
	})
}

func (s *badgerStore) Get(intentHash string) (*mempool.Transaction, error) {
	var tx *mempool.Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		tx, err = getTx(txn, intentHash)
		return err
	})
	return tx, err
}

func (s *badgerStore) ListPending(limit int) ([]mempool.Transaction, error) {
	r := []mempool.Transaction{}
	err := s.db.View(func(txn *badger.Txn) error {
		return loopKeys(txn, []byte(prefixPending), func(intentHash string) error {
			tx, err := getTx(txn, intentHash)
			if err == mempool.ErrNotFound {
				// Expired underneath the index.
				return nil
			} else if err != nil {
				return err
			}
			r = append(r, *tx)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(r, func(i, j int) bool {
		if r[i].FirstSubmittedToGateway.Equal(r[j].FirstSubmittedToGateway) {
			return r[i].IntentHash < r[j].IntentHash
		}
		return r[i].FirstSubmittedToGateway.Before(r[j].FirstSubmittedToGateway)
	})
	if limit > 0 && len(r) > limit {
		r = r[:limit]
	}
	return r, nil
}

func (s *badgerStore) MarkResubmitted(intentHash string, nodeName string, now time.Time) error {
	return s.modify(intentHash, func(tx *mempool.Transaction) error {
		if tx.Status != mempool.StatusPending {
			return mempool.ErrNotPending
		}
		tx.LastSubmittedToNode = now
		tx.LastNodeName = nodeName
		tx.SubmissionCount++
		return nil
	})
}

var errUnchanged = errors.New("unchanged")

func (s *badgerStore) MarkCommitted(intentHash string, stateVersion uint64, now time.Time) error {
	err := s.modify(intentHash, func(tx *mempool.Transaction) error {
		if tx.Status == mempool.StatusCommitted {
			return errUnchanged
		}
		tx.Status = mempool.StatusCommitted
		tx.CommittedStateVersion = stateVersion
		tx.CommittedAt = now
		return nil
	})
	if err == errUnchanged {
		return nil
	}
	return err
}

func (s *badgerStore) PruneCommitted(before time.Time) (int, error) {
	var n int
	err := s.update(func(txn *badger.Txn) error {
		n = 0
		var prune [][]byte
		var tx mempool.Transaction
		err := loopItem(txn, []byte(prefixTx), &tx, func() error {
			if tx.Status == mempool.StatusCommitted && tx.CommittedAt.Before(before) {
				prune = append(prune, txKey(tx.IntentHash))
			}
			tx = mempool.Transaction{}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range prune {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		n = len(prune)
		return nil
	})
	return n, err
}

func (s *badgerStore) Stats() (*mempool.Stats, error) {
	stats := &mempool.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		var tx mempool.Transaction
		return loopItem(txn, []byte(prefixTx), &tx, func() error {
			switch tx.Status {
			case mempool.StatusPending:
				stats.NumPending++
			case mempool.StatusFailed:
				stats.NumFailed++
			case mempool.StatusCommitted:
				stats.NumCommitted++
			}
			tx = mempool.Transaction{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
