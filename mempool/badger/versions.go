package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/vipnode/gateway/mempool"
)

// dbVersion is the layout that badgerStore reads and writes.
const dbVersion = 2

// upgrade moves the layout from its version to the next one, and bumps the
// stored version as it does.
type upgrade func(txn *badger.Txn) error

var upgrades = [dbVersion]upgrade{
	// 0 -> 1: records keyed by intent hash.
	func(txn *badger.Txn) error {
		return setVersion(txn, 1)
	},

	// 1 -> 2: pending index, so resubmission does not scan every record.
	func(txn *badger.Txn) error {
		var pending []string
		var tx mempool.Transaction
		err := loopItem(txn, []byte(prefixTx), &tx, func() error {
			if tx.Status == mempool.StatusPending {
				pending = append(pending, tx.IntentHash)
			}
			tx = mempool.Transaction{}
			return nil
		})
		if err != nil {
			return err
		}
		for _, intentHash := range pending {
			if err := txn.Set(pendingKey(intentHash), nil); err != nil {
				return err
			}
		}
		return setVersion(txn, 2)
	},
}

// MigrateLatest upgrades the dedup store layout in a single transaction.
// path names the store in errors.
func MigrateLatest(db *badger.DB, path string) error {
	return db.Update(func(txn *badger.Txn) error {
		stored, err := getVersion(txn)
		if err != nil {
			return MigrationError{OldVersion: stored, NewVersion: dbVersion, Path: path, Cause: err}
		}
		if stored > dbVersion {
			return MigrationError{OldVersion: stored, NewVersion: dbVersion, Path: path, Cause: errors.New("written by a newer gateway")}
		}
		for v := stored; v < dbVersion; v++ {
			if err := upgrades[v](txn); err != nil {
				return MigrationError{OldVersion: v, NewVersion: dbVersion, Path: path, Cause: err}
			}
			if next, err := getVersion(txn); err != nil || next != v+1 {
				if err == nil {
					err = fmt.Errorf("upgrade left version %d", next)
				}
				return MigrationError{OldVersion: v, NewVersion: dbVersion, Path: path, Cause: err}
			}
			logger.Infof("Upgraded dedup store layout to version %d: %s", v+1, path)
		}
		return nil
	})
}

func getVersion(txn *badger.Txn) (int, error) {
	var version int
	if err := getItem(txn, []byte(keyVersion), &version); err != nil && err != badger.ErrKeyNotFound {
		return version, err
	}
	return version, nil
}

func setVersion(txn *badger.Txn, version int) error {
	return setItem(txn, []byte(keyVersion), &version)
}

// MigrationError is returned by Open when the dedup store cannot be brought
// to the current layout.
type MigrationError struct {
	OldVersion int
	NewVersion int
	Path       string
	Cause      error
}

func (err MigrationError) Error() string {
	return fmt.Sprintf("dedup store %q: cannot upgrade layout %d to %d: %s", err.Path, err.OldVersion, err.NewVersion, err.Cause)
}

func (err MigrationError) Unwrap() error {
	return err.Cause
}
