package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"gorm.io/gorm"

	"github.com/vipnode/gateway/aggregate"
)

func (row *resourceHistoryRow) history() *aggregate.ResourceHistory {
	return &aggregate.ResourceHistory{
		EntityID:         row.EntityID,
		FromStateVersion: row.FromStateVersion,
		Fungible:         list(row.FungibleIDs, row.FungibleVersions),
		NonFungible:      list(row.NonFungibleIDs, row.NonFungibleVersions),
	}
}

func newResourceHistoryRow(h *aggregate.ResourceHistory) *resourceHistoryRow {
	return &resourceHistoryRow{
		EntityID:            h.EntityID,
		FromStateVersion:    h.FromStateVersion,
		FungibleIDs:         h.Fungible.IDs,
		FungibleVersions:    h.Fungible.Versions,
		NonFungibleIDs:      h.NonFungible.IDs,
		NonFungibleVersions: h.NonFungible.Versions,
	}
}

func (row *vaultHistoryRow) history() *aggregate.VaultHistory {
	return &aggregate.VaultHistory{
		EntityID:         row.EntityID,
		ResourceID:       row.ResourceID,
		FromStateVersion: row.FromStateVersion,
		Vaults:           list(row.VaultIDs, row.VaultVersions),
	}
}

func newVaultHistoryRow(h *aggregate.VaultHistory) *vaultHistoryRow {
	return &vaultHistoryRow{
		EntityID:         h.EntityID,
		ResourceID:       h.ResourceID,
		FromStateVersion: h.FromStateVersion,
		VaultIDs:         h.Vaults.IDs,
		VaultVersions:    h.Vaults.Versions,
	}
}

func (row *balanceRow) balance() (*aggregate.ResourceBalance, error) {
	balance, ok := new(big.Int).SetString(row.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance %q of %s/%s", row.Balance, row.EntityID, row.ResourceID)
	}
	return &aggregate.ResourceBalance{
		EntityID:         row.EntityID,
		ResourceID:       row.ResourceID,
		FromStateVersion: row.FromStateVersion,
		Fungible:         row.Fungible,
		Balance:          balance,
	}, nil
}

func newBalanceRow(b *aggregate.ResourceBalance) *balanceRow {
	return &balanceRow{
		EntityID:         b.EntityID,
		ResourceID:       b.ResourceID,
		FromStateVersion: b.FromStateVersion,
		Fungible:         b.Fungible,
		Balance:          b.Balance.String(),
	}
}

func list(ids []string, versions []uint64) aggregate.List {
	if ids == nil {
		ids = []string{}
	}
	if versions == nil {
		versions = []uint64{}
	}
	return aggregate.List{IDs: ids, Versions: versions}
}

// latest loads into dest the row matching q with the highest
// from_state_version at or below atOrBelow. It returns false if there is
// none.
func latest(q *gorm.DB, atOrBelow uint64, dest interface{}) (bool, error) {
	err := q.Where("from_state_version <= ?", atOrBelow).Order("from_state_version desc").Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

const maxStateVersion = uint64(1<<63 - 1)

// aggregateStore reads aggregate rows through db, which is either a read
// snapshot or the ingestion transaction.
type aggregateStore struct {
	db *gorm.DB
}

var (
	_ aggregate.Reader = aggregateStore{}
	_ aggregate.Loader = aggregateStore{}
)

func (s aggregateStore) ResourceHistoryAt(ctx context.Context, entityID string, atOrBelow uint64) (*aggregate.ResourceHistory, error) {
	var row resourceHistoryRow
	found, err := latest(s.db.WithContext(ctx).Where("entity_id = ?", entityID), atOrBelow, &row)
	if !found {
		return nil, err
	}
	return row.history(), nil
}

func (s aggregateStore) VaultHistoryAt(ctx context.Context, entityID, resourceID string, atOrBelow uint64) (*aggregate.VaultHistory, error) {
	var row vaultHistoryRow
	found, err := latest(s.db.WithContext(ctx).Where("entity_id = ? AND resource_id = ?", entityID, resourceID), atOrBelow, &row)
	if !found {
		return nil, err
	}
	return row.history(), nil
}

func (s aggregateStore) balanceAt(ctx context.Context, entityID, resourceID string, atOrBelow uint64) (*aggregate.ResourceBalance, error) {
	var row balanceRow
	found, err := latest(s.db.WithContext(ctx).Where("entity_id = ? AND resource_id = ?", entityID, resourceID), atOrBelow, &row)
	if !found {
		return nil, err
	}
	return row.balance()
}

func (s aggregateStore) BalancesAt(ctx context.Context, entityID string, resourceIDs []string, atOrBelow uint64) (map[string]*aggregate.ResourceBalance, error) {
	r := make(map[string]*aggregate.ResourceBalance, len(resourceIDs))
	for _, resourceID := range resourceIDs {
		b, err := s.balanceAt(ctx, entityID, resourceID, atOrBelow)
		if err != nil {
			return nil, err
		}
		if b != nil {
			r[resourceID] = b
		}
	}
	return r, nil
}

func (s aggregateStore) MostRecentResourceHistories(ctx context.Context, entityIDs []string) (map[string]*aggregate.ResourceHistory, error) {
	r := map[string]*aggregate.ResourceHistory{}
	for _, entityID := range entityIDs {
		h, err := s.ResourceHistoryAt(ctx, entityID, maxStateVersion)
		if err != nil {
			return nil, err
		}
		if h != nil {
			r[entityID] = h
		}
	}
	return r, nil
}

func (s aggregateStore) MostRecentVaultHistories(ctx context.Context, keys []aggregate.EntityResource) (map[aggregate.EntityResource]*aggregate.VaultHistory, error) {
	r := map[aggregate.EntityResource]*aggregate.VaultHistory{}
	for _, key := range keys {
		h, err := s.VaultHistoryAt(ctx, key.EntityID, key.ResourceID, maxStateVersion)
		if err != nil {
			return nil, err
		}
		if h != nil {
			r[key] = h
		}
	}
	return r, nil
}

func (s aggregateStore) MostRecentBalances(ctx context.Context, keys []aggregate.EntityResource) (map[aggregate.EntityResource]*aggregate.ResourceBalance, error) {
	r := map[aggregate.EntityResource]*aggregate.ResourceBalance{}
	for _, key := range keys {
		b, err := s.balanceAt(ctx, key.EntityID, key.ResourceID, maxStateVersion)
		if err != nil {
			return nil, err
		}
		if b != nil {
			r[key] = b
		}
	}
	return r, nil
}

func (r *reader) ResourceHistoryAt(ctx context.Context, entityID string, atOrBelow uint64) (*aggregate.ResourceHistory, error) {
	return aggregateStore{r.db}.ResourceHistoryAt(ctx, entityID, atOrBelow)
}

func (r *reader) VaultHistoryAt(ctx context.Context, entityID, resourceID string, atOrBelow uint64) (*aggregate.VaultHistory, error) {
	return aggregateStore{r.db}.VaultHistoryAt(ctx, entityID, resourceID, atOrBelow)
}

func (r *reader) BalancesAt(ctx context.Context, entityID string, resourceIDs []string, atOrBelow uint64) (map[string]*aggregate.ResourceBalance, error) {
	return aggregateStore{r.db}.BalancesAt(ctx, entityID, resourceIDs, atOrBelow)
}
