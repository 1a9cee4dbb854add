package badger

import (
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	// Nanosecond timestamps, so records round-trip exactly.
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

func hasKey(txn *badger.Txn, key []byte) bool {
	_, err := txn.Get(key)
	return err == nil
}

func getItem(txn *badger.Txn, key []byte, into interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, into)
	})
}

func setItem(txn *badger.Txn, key []byte, val interface{}) error {
	b, err := encMode.Marshal(val)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func setExpiringItem(txn *badger.Txn, key []byte, val interface{}, expire time.Duration) error {
	b, err := encMode.Marshal(val)
	if err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(key, b).WithTTL(expire))
}

// loopItem decodes every value under prefix into the same target and calls
// fn after each one.
func loopItem(txn *badger.Txn, prefix []byte, into interface{}, fn func() error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			return cbor.Unmarshal(val, into)
		})
		if err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// loopKeys calls fn with every key under prefix, with the prefix stripped.
func loopKeys(txn *badger.Txn, prefix []byte, fn func(key string) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		if err := fn(string(key[len(prefix):])); err != nil {
			return err
		}
	}
	return nil
}
