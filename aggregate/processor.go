package aggregate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vipnode/gateway/ledger"
)

// EntityResource identifies the holdings of one resource by one entity.
type EntityResource struct {
	EntityID   string
	ResourceID string
}

// Loader reads the most recent persisted rows that a batch builds upon.
type Loader interface {
	MostRecentResourceHistories(ctx context.Context, entityIDs []string) (map[string]*ResourceHistory, error)
	MostRecentVaultHistories(ctx context.Context, keys []EntityResource) (map[EntityResource]*VaultHistory, error)
	MostRecentBalances(ctx context.Context, keys []EntityResource) (map[EntityResource]*ResourceBalance, error)
}

type event struct {
	EntityResource
	VaultID      string
	StateVersion uint64
	Fungible     bool
	Delta        *big.Int
}

// Result holds the rows a batch should persist.
type Result struct {
	ResourceHistories []*ResourceHistory
	VaultHistories    []*VaultHistory
	Balances          []*ResourceBalance
}

// IsEmpty is true if there is nothing to persist.
func (r *Result) IsEmpty() bool {
	return len(r.ResourceHistories) == 0 && len(r.VaultHistories) == 0 && len(r.Balances) == 0
}

// Processor folds a batch of vault changes into new aggregate rows. It is
// used by a single ingestion writer and is not goroutine-safe. Changes must
// be tracked in ledger order.
type Processor struct {
	events []event

	resources map[string]*ResourceHistory
	vaults    map[EntityResource]*VaultHistory
	balances  map[EntityResource]*ResourceBalance
}

// NewProcessor returns an empty processor.
func NewProcessor() *Processor {
	return &Processor{
		resources: map[string]*ResourceHistory{},
		vaults:    map[EntityResource]*VaultHistory{},
		balances:  map[EntityResource]*ResourceBalance{},
	}
}

// Track adds a vault change committed at stateVersion. The change counts
// towards the owning global entity, and towards the direct parent too when
// that is a different entity.
func (p *Processor) Track(stateVersion uint64, change ledger.VaultChange) error {
	delta, ok := new(big.Int).SetString(change.Delta, 10)
	if !ok {
		return fmt.Errorf("invalid delta %q for vault %s", change.Delta, change.VaultID)
	}
	e := event{
		EntityResource: EntityResource{EntityID: change.EntityID, ResourceID: change.ResourceID},
		VaultID:        change.VaultID,
		StateVersion:   stateVersion,
		Fungible:       change.Fungible,
		Delta:          delta,
	}
	p.events = append(p.events, e)
	if change.ParentEntityID != "" && change.ParentEntityID != change.EntityID {
		e.EntityResource.EntityID = change.ParentEntityID
		p.events = append(p.events, e)
	}
	return nil
}

// Len returns the number of tracked events.
func (p *Processor) Len() int {
	return len(p.events)
}

// Load reads the rows that tracked events build upon.
func (p *Processor) Load(ctx context.Context, l Loader) error {
	if len(p.events) == 0 {
		return nil
	}
	entitySet := map[string]struct{}{}
	keySet := map[EntityResource]struct{}{}
	var entityIDs []string
	var keys []EntityResource
	for _, e := range p.events {
		if _, ok := entitySet[e.EntityID]; !ok {
			entitySet[e.EntityID] = struct{}{}
			entityIDs = append(entityIDs, e.EntityID)
		}
		if _, ok := keySet[e.EntityResource]; !ok {
			keySet[e.EntityResource] = struct{}{}
			keys = append(keys, e.EntityResource)
		}
	}

	resources, err := l.MostRecentResourceHistories(ctx, entityIDs)
	if err != nil {
		return err
	}
	vaults, err := l.MostRecentVaultHistories(ctx, keys)
	if err != nil {
		return err
	}
	balances, err := l.MostRecentBalances(ctx, keys)
	if err != nil {
		return err
	}
	for k, v := range resources {
		p.resources[k] = v
	}
	for k, v := range vaults {
		p.vaults[k] = v
	}
	for k, v := range balances {
		p.balances[k] = v
	}
	return nil
}

// Process applies every tracked event and returns the rows to persist.
func (p *Processor) Process() *Result {
	var resourceCandidates []*ResourceHistory
	var vaultCandidates []*VaultHistory
	r := &Result{}

	for _, e := range p.events {
		rh, ok := p.resources[e.EntityID]
		if !ok || rh.FromStateVersion != e.StateVersion {
			if !ok {
				rh = NewResourceHistory(e.EntityID, e.StateVersion)
			} else {
				rh = CopyResourceHistory(rh, e.StateVersion)
			}
			resourceCandidates = append(resourceCandidates, rh)
			p.resources[e.EntityID] = rh
		}
		if e.Fungible {
			rh.TryUpsertFungible(e.ResourceID, e.StateVersion)
		} else {
			rh.TryUpsertNonFungible(e.ResourceID, e.StateVersion)
		}

		vh, ok := p.vaults[e.EntityResource]
		if !ok || vh.FromStateVersion != e.StateVersion {
			if !ok {
				vh = NewVaultHistory(e.EntityID, e.ResourceID, e.StateVersion)
			} else {
				vh = CopyVaultHistory(vh, e.StateVersion)
			}
			vaultCandidates = append(vaultCandidates, vh)
			p.vaults[e.EntityResource] = vh
		}
		vh.TryUpsertVault(e.VaultID, e.StateVersion)

		b, ok := p.balances[e.EntityResource]
		if !ok || b.FromStateVersion != e.StateVersion {
			prev := new(big.Int)
			if ok {
				prev.Set(b.Balance)
			}
			b = &ResourceBalance{
				EntityID:         e.EntityID,
				ResourceID:       e.ResourceID,
				FromStateVersion: e.StateVersion,
				Fungible:         e.Fungible,
				Balance:          prev,
			}
			r.Balances = append(r.Balances, b)
			p.balances[e.EntityResource] = b
		}
		b.Balance.Add(b.Balance, e.Delta)
	}

	for _, rh := range resourceCandidates {
		if rh.ShouldBePersisted() {
			r.ResourceHistories = append(r.ResourceHistories, rh)
		}
	}
	for _, vh := range vaultCandidates {
		if vh.ShouldBePersisted() {
			r.VaultHistories = append(r.VaultHistories, vh)
		}
	}
	p.events = nil
	return r
}
