package aggregate

import "context"

// Reader reads persisted aggregate rows as of a state version. Lookups
// return nil when the entity had no rows yet.
type Reader interface {
	ResourceHistoryAt(ctx context.Context, entityID string, atOrBelow uint64) (*ResourceHistory, error)
	VaultHistoryAt(ctx context.Context, entityID, resourceID string, atOrBelow uint64) (*VaultHistory, error)
	// BalancesAt returns the balance of each resource in resourceIDs, keyed
	// by resource ID. Resources without a balance row are omitted.
	BalancesAt(ctx context.Context, entityID string, resourceIDs []string, atOrBelow uint64) (map[string]*ResourceBalance, error)
}
