package badger

import (
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"

	"github.com/vipnode/gateway/mempool"
)

func TestMigration(t *testing.T) {
	store, err := OpenTemp()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	db := store.db

	err = db.View(func(txn *badger.Txn) error {
		version, err := getVersion(txn)
		if err != nil {
			return err
		}
		if version != dbVersion {
			t.Errorf("incorrect version on fresh database: %d", version)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMigrationPendingIndex(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// A version 1 database has records but no pending index.
	now := time.Now()
	pending := mempool.NewTransaction(now, mempool.Submission{PayloadHash: "0xp1", IntentHash: "0xi1"})
	failed := mempool.NewTransaction(now, mempool.Submission{PayloadHash: "0xp2", IntentHash: "0xi2"})
	failed.Status = mempool.StatusFailed
	err = db.Update(func(txn *badger.Txn) error {
		if err := setVersion(txn, 1); err != nil {
			return err
		}
		if err := setItem(txn, txKey(pending.IntentHash), &pending); err != nil {
			return err
		}
		return setItem(txn, txKey(failed.IntentHash), &failed)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := MigrateLatest(db, "test"); err != nil {
		t.Fatal(err)
	}
	s := &badgerStore{db: db}
	txs, err := s.ListPending(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0].IntentHash != "0xi1" {
		t.Errorf("unexpected pending list: %+v", txs)
	}
}

func TestMigrationTooNew(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Update(func(txn *badger.Txn) error {
		return setVersion(txn, dbVersion+1)
	}); err != nil {
		t.Fatal(err)
	}
	err = MigrateLatest(db, "test")
	var migrationErr MigrationError
	if !errors.As(err, &migrationErr) {
		t.Fatalf("expected migration error, got: %v", err)
	}
	if migrationErr.OldVersion != dbVersion+1 {
		t.Errorf("got: %d; want: %d", migrationErr.OldVersion, dbVersion+1)
	}
	if migrationErr.Path != "test" {
		t.Errorf("got: %q; want: %q", migrationErr.Path, "test")
	}
}
