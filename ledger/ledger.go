// Package ledger holds the read model of the committed ledger that the
// gateway indexes into its read replica, and the contracts of that replica.
package ledger

import (
	"context"
	"time"
)

// State is an immutable point on the committed ledger.
type State struct {
	Network        string    `json:"network"`
	StateVersion   uint64    `json:"state_version"`
	RoundTimestamp time.Time `json:"round_timestamp"`
	Epoch          uint64    `json:"epoch"`
	RoundInEpoch   uint64    `json:"round"`
}

// Identifier selects a ledger state. At most one selector is honored, in
// order: StateVersion, Timestamp, Epoch (with an optional Round).
type Identifier struct {
	StateVersion *uint64    `json:"state_version,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	Epoch        *uint64    `json:"epoch,omitempty"`
	Round        *uint64    `json:"round,omitempty"`
}

// IsEmpty is true when no selector is set.
func (id *Identifier) IsEmpty() bool {
	return id == nil || (id.StateVersion == nil && id.Timestamp == nil && id.Epoch == nil)
}

// AtStateVersion returns an identifier selecting a state version.
func AtStateVersion(v uint64) *Identifier {
	return &Identifier{StateVersion: &v}
}

// VaultChange is a committed balance change of a vault.
type VaultChange struct {
	EntityID       string `json:"entity_id"`
	ParentEntityID string `json:"parent_entity_id,omitempty"`
	VaultID        string `json:"vault_id"`
	ResourceID     string `json:"resource_id"`
	Fungible       bool   `json:"fungible"`
	Delta          string `json:"delta"`
}

// Transaction is a committed transaction.
type Transaction struct {
	StateVersion   uint64        `json:"state_version"`
	PayloadHash    string        `json:"payload_hash"`
	IntentHash     string        `json:"intent_hash"`
	RoundTimestamp time.Time     `json:"round_timestamp"`
	Epoch          uint64        `json:"epoch"`
	RoundInEpoch   uint64        `json:"round"`
	IsStartOfEpoch bool          `json:"is_start_of_epoch"`
	Success        bool          `json:"success"`
	Accounts       []string      `json:"affected_accounts,omitempty"`
	VaultChanges   []VaultChange `json:"vault_changes,omitempty"`
}

// State returns the ledger state right after the transaction.
func (tx *Transaction) State(network string) *State {
	return &State{
		Network:        network,
		StateVersion:   tx.StateVersion,
		RoundTimestamp: tx.RoundTimestamp,
		Epoch:          tx.Epoch,
		RoundInEpoch:   tx.RoundInEpoch,
	}
}

// Status is the ingestion progress of the replica.
type Status struct {
	TopStateVersion        uint64    `json:"top_state_version"`
	SyncTargetStateVersion uint64    `json:"sync_target_state_version"`
	LastUpdated            time.Time `json:"last_updated"`
}

// Reader answers queries against one consistent snapshot of the replica.
// Top returns ErrNoTransactions on an empty replica. Other lookups return
// (nil, nil) when nothing matches.
type Reader interface {
	// Network is the network name the replica was built from.
	Network() string

	// Status returns the ingestion progress.
	Status(ctx context.Context) (*Status, error)

	// Top returns the last committed transaction.
	Top(ctx context.Context) (*Transaction, error)
	// AtStateVersion returns the transaction at exactly version v.
	AtStateVersion(ctx context.Context, v uint64) (*Transaction, error)
	// LastAtOrBefore returns the last transaction with a round timestamp at
	// or before t.
	LastAtOrBefore(ctx context.Context, t time.Time) (*Transaction, error)
	// FirstAtOrAfter returns the first transaction with a round timestamp at
	// or after t.
	FirstAtOrAfter(ctx context.Context, t time.Time) (*Transaction, error)
	// AtEpochRound returns the first transaction of a round.
	AtEpochRound(ctx context.Context, epoch, round uint64) (*Transaction, error)
	// AtEpochStart returns the first transaction of an epoch.
	AtEpochStart(ctx context.Context, epoch uint64) (*Transaction, error)

	// StateVersions returns up to limit state versions between atOrAbove
	// and atOrBelow, descending. A non-empty account restricts the result
	// to transactions affecting it.
	StateVersions(ctx context.Context, account string, atOrAbove, atOrBelow uint64, limit int) ([]uint64, error)
	// Transactions materializes the given state versions, in the same order.
	Transactions(ctx context.Context, versions []uint64) ([]Transaction, error)
	// CountAccountTransactions counts transactions affecting account at or
	// below atOrBelow, excluding start-of-epoch transactions.
	CountAccountTransactions(ctx context.Context, account string, atOrBelow uint64) (int64, error)
	// ByIntentHash returns the committed transaction of an intent at or
	// below atOrBelow.
	ByIntentHash(ctx context.Context, intentHash string, atOrBelow uint64) (*Transaction, error)
}

// Store is the read replica.
type Store interface {
	// View runs fn against a single read snapshot.
	View(ctx context.Context, fn func(r Reader) error) error
}
