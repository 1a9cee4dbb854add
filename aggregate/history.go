package aggregate

import (
	"math/big"
)

// ResourceHistory is the set of resources an entity holds, at
// FromStateVersion.
type ResourceHistory struct {
	EntityID         string
	FromStateVersion uint64
	Fungible         List
	NonFungible      List

	// Member IDs when the row was copied; nil for new rows.
	originalFungible    []string
	originalNonFungible []string
	copied              bool
}

// NewResourceHistory returns an empty row for entityID.
func NewResourceHistory(entityID string, stateVersion uint64) *ResourceHistory {
	return &ResourceHistory{
		EntityID:         entityID,
		FromStateVersion: stateVersion,
		Fungible:         List{IDs: []string{}, Versions: []uint64{}},
		NonFungible:      List{IDs: []string{}, Versions: []uint64{}},
	}
}

// CopyResourceHistory returns a copy of prev at stateVersion, remembering
// prev's members.
func CopyResourceHistory(prev *ResourceHistory, stateVersion uint64) *ResourceHistory {
	h := &ResourceHistory{
		EntityID:         prev.EntityID,
		FromStateVersion: stateVersion,
		Fungible:         prev.Fungible.clone(),
		NonFungible:      prev.NonFungible.clone(),
		copied:           true,
	}
	h.originalFungible = append([]string{}, h.Fungible.IDs...)
	h.originalNonFungible = append([]string{}, h.NonFungible.IDs...)
	return h
}

// TryUpsertFungible records an update of a fungible resource.
func (h *ResourceHistory) TryUpsertFungible(resourceID string, stateVersion uint64) bool {
	return h.Fungible.TryUpsert(resourceID, stateVersion)
}

// TryUpsertNonFungible records an update of a non-fungible resource.
func (h *ResourceHistory) TryUpsertNonFungible(resourceID string, stateVersion uint64) bool {
	return h.NonFungible.TryUpsert(resourceID, stateVersion)
}

// ShouldBePersisted is true for new rows, and for copies whose member order
// changed. A copy where only the head's version moved is not persisted.
func (h *ResourceHistory) ShouldBePersisted() bool {
	if !h.copied {
		return true
	}
	return !equalIDs(h.originalFungible, h.Fungible.IDs) || !equalIDs(h.originalNonFungible, h.NonFungible.IDs)
}

// VaultHistory is the set of vaults an entity holds of one resource, at
// FromStateVersion.
type VaultHistory struct {
	EntityID         string
	ResourceID       string
	FromStateVersion uint64
	Vaults           List

	originalVaults []string
	copied         bool
}

// NewVaultHistory returns an empty row for an entity and resource.
func NewVaultHistory(entityID, resourceID string, stateVersion uint64) *VaultHistory {
	return &VaultHistory{
		EntityID:         entityID,
		ResourceID:       resourceID,
		FromStateVersion: stateVersion,
		Vaults:           List{IDs: []string{}, Versions: []uint64{}},
	}
}

// CopyVaultHistory returns a copy of prev at stateVersion.
func CopyVaultHistory(prev *VaultHistory, stateVersion uint64) *VaultHistory {
	h := &VaultHistory{
		EntityID:         prev.EntityID,
		ResourceID:       prev.ResourceID,
		FromStateVersion: stateVersion,
		Vaults:           prev.Vaults.clone(),
		copied:           true,
	}
	h.originalVaults = append([]string{}, h.Vaults.IDs...)
	return h
}

// TryUpsertVault records an update of a vault.
func (h *VaultHistory) TryUpsertVault(vaultID string, stateVersion uint64) bool {
	return h.Vaults.TryUpsert(vaultID, stateVersion)
}

// ShouldBePersisted is true for new rows, and for copies whose member order
// changed.
func (h *VaultHistory) ShouldBePersisted() bool {
	if !h.copied {
		return true
	}
	return !equalIDs(h.originalVaults, h.Vaults.IDs)
}

// ResourceBalance is the sum over every vault an entity holds of one
// resource: a token amount for fungible resources, an item count otherwise.
type ResourceBalance struct {
	EntityID         string
	ResourceID       string
	FromStateVersion uint64
	Fungible         bool
	Balance          *big.Int
}
