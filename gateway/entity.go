package gateway

import (
	"context"

	"github.com/vipnode/gateway/aggregate"
	"github.com/vipnode/gateway/ledger"
)

// Resource is a resource held by an entity.
type Resource struct {
	ResourceID string `json:"resource_id"`
	// LastUpdatedAtStateVersion is the last time the entity's holdings of
	// the resource changed.
	LastUpdatedAtStateVersion uint64 `json:"last_updated_at_state_version"`
	// Amount is a token amount for fungible resources and an item count
	// otherwise. It is empty if the balance is unknown.
	Amount string `json:"amount,omitempty"`
}

// EntityResources lists the resources an entity holds, most recently
// changed first.
type EntityResources struct {
	LedgerState *ledger.State `json:"ledger_state"`
	EntityID    string        `json:"entity_id"`
	Fungible    []Resource    `json:"fungible_resources"`
	NonFungible []Resource    `json:"non_fungible_resources"`
}

// Vault is a vault holding a resource.
type Vault struct {
	VaultID                   string `json:"vault_id"`
	LastUpdatedAtStateVersion uint64 `json:"last_updated_at_state_version"`
}

// EntityResourceVaults lists the vaults an entity holds a resource in, most
// recently changed first.
type EntityResourceVaults struct {
	LedgerState *ledger.State `json:"ledger_state"`
	EntityID    string        `json:"entity_id"`
	ResourceID  string        `json:"resource_id"`
	Vaults      []Vault       `json:"vaults"`
}

// viewAggregates resolves at and runs fn against the aggregate rows of the
// same snapshot.
func (s *Service) viewAggregates(ctx context.Context, at *ledger.Identifier, fn func(r aggregate.Reader, state *ledger.State) error) error {
	return s.Store.View(ctx, func(r ledger.Reader) error {
		agg, ok := r.(aggregate.Reader)
		if !ok {
			return ErrNoAggregates
		}
		state, err := s.States.ResolveForReadIn(ctx, r, at)
		if err != nil {
			return err
		}
		return fn(agg, state)
	})
}

// EntityResources returns the resources held by entityID at a ledger state.
func (s *Service) EntityResources(ctx context.Context, entityID string, at *ledger.Identifier) (*EntityResources, error) {
	if entityID == "" {
		return nil, ledger.InvalidRequestf("Entity address is required")
	}
	resp := &EntityResources{
		EntityID:    entityID,
		Fungible:    []Resource{},
		NonFungible: []Resource{},
	}
	err := s.viewAggregates(ctx, at, func(r aggregate.Reader, state *ledger.State) error {
		resp.LedgerState = state
		history, err := r.ResourceHistoryAt(ctx, entityID, state.StateVersion)
		if err != nil || history == nil {
			return err
		}
		ids := make([]string, 0, history.Fungible.Len()+history.NonFungible.Len())
		ids = append(ids, history.Fungible.IDs...)
		ids = append(ids, history.NonFungible.IDs...)
		balances, err := r.BalancesAt(ctx, entityID, ids, state.StateVersion)
		if err != nil {
			return err
		}
		resp.Fungible = resources(history.Fungible, balances)
		resp.NonFungible = resources(history.NonFungible, balances)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func resources(l aggregate.List, balances map[string]*aggregate.ResourceBalance) []Resource {
	r := make([]Resource, 0, l.Len())
	for i, id := range l.IDs {
		res := Resource{ResourceID: id, LastUpdatedAtStateVersion: l.Versions[i]}
		if b, ok := balances[id]; ok {
			res.Amount = b.Balance.String()
		}
		r = append(r, res)
	}
	return r
}

// EntityResourceVaults returns the vaults entityID holds resourceID in at a
// ledger state.
func (s *Service) EntityResourceVaults(ctx context.Context, entityID, resourceID string, at *ledger.Identifier) (*EntityResourceVaults, error) {
	if entityID == "" || resourceID == "" {
		return nil, ledger.InvalidRequestf("Entity and resource addresses are required")
	}
	resp := &EntityResourceVaults{
		EntityID:   entityID,
		ResourceID: resourceID,
		Vaults:     []Vault{},
	}
	err := s.viewAggregates(ctx, at, func(r aggregate.Reader, state *ledger.State) error {
		resp.LedgerState = state
		history, err := r.VaultHistoryAt(ctx, entityID, resourceID, state.StateVersion)
		if err != nil || history == nil {
			return err
		}
		for i, id := range history.Vaults.IDs {
			resp.Vaults = append(resp.Vaults, Vault{VaultID: id, LastUpdatedAtStateVersion: history.Vaults.Versions[i]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
