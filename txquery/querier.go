// Package txquery serves committed transactions from the read replica:
// cursor paginated streams that stay consistent while new transactions
// arrive, and lookups by intent hash.
package txquery

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/mempool"
)

// Config holds the pagination limits.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	// CommittedCacheSize is the number of committed transactions kept for
	// lookups by intent hash.
	CommittedCacheSize int
}

// DefaultConfig returns the default pagination limits.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:       30,
		MaxLimit:           100,
		CommittedCacheSize: 4096,
	}
}

// Request selects a page. The first page is bound to AtLedgerState, or to
// the top of the ledger if it is unset. Clients pass the LedgerState of
// the first page and the NextCursor of the previous page to continue.
// FromLedgerState, if set, ends the stream at the first state at or after
// it.
type Request struct {
	AtLedgerState   *ledger.Identifier `json:"at_ledger_state,omitempty"`
	FromLedgerState *ledger.Identifier `json:"from_ledger_state,omitempty"`
	Cursor          string             `json:"cursor,omitempty"`
	Limit           int                `json:"limit,omitempty"`
}

// Page is one page of committed transactions, newest first.
type Page struct {
	LedgerState *ledger.State `json:"ledger_state"`
	// FromLedgerState is the resolved lower bound of the stream, if any.
	FromLedgerState *ledger.State `json:"from_ledger_state,omitempty"`
	// TotalCount counts the stream's transactions at LedgerState, except
	// start of epoch transactions.
	TotalCount int64                `json:"total_count"`
	NextCursor string               `json:"next_cursor,omitempty"`
	Items      []ledger.Transaction `json:"items"`
}

// Querier reads committed transactions.
type Querier struct {
	store   ledger.Store
	states  *ledgerstate.Querier
	mempool mempool.Store
	cfg     Config

	committed *lru.Cache[string, *ledger.Transaction]
}

// New returns a Querier. pending is used to report the status of
// transactions that are not committed yet, and may be nil.
func New(store ledger.Store, states *ledgerstate.Querier, pending mempool.Store, cfg Config) (*Querier, error) {
	if cfg.DefaultLimit <= 0 || cfg.MaxLimit < cfg.DefaultLimit {
		return nil, fmt.Errorf("invalid pagination limits: default %d, max %d", cfg.DefaultLimit, cfg.MaxLimit)
	}
	if cfg.CommittedCacheSize <= 0 {
		cfg.CommittedCacheSize = DefaultConfig().CommittedCacheSize
	}
	cache, err := lru.New[string, *ledger.Transaction](cfg.CommittedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Querier{
		store:     store,
		states:    states,
		mempool:   pending,
		cfg:       cfg,
		committed: cache,
	}, nil
}

func (q *Querier) limit(requested int) (int, error) {
	if requested == 0 {
		return q.cfg.DefaultLimit, nil
	}
	if requested < 0 || requested > q.cfg.MaxLimit {
		return 0, ledger.InvalidRequestf("Limit must be between 1 and %d", q.cfg.MaxLimit)
	}
	return requested, nil
}

// Recent returns a page of the most recent committed transactions.
func (q *Querier) Recent(ctx context.Context, req Request) (*Page, error) {
	return q.page(ctx, "", req)
}

// Account returns a page of the committed transactions affecting account.
func (q *Querier) Account(ctx context.Context, account string, req Request) (*Page, error) {
	if account == "" {
		return nil, ledger.InvalidRequestf("Account is required")
	}
	return q.page(ctx, account, req)
}

func (q *Querier) page(ctx context.Context, account string, req Request) (*Page, error) {
	limit, err := q.limit(req.Limit)
	if err != nil {
		return nil, err
	}
	cursor, err := ParseCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	var page *Page
	err = q.store.View(ctx, func(r ledger.Reader) error {
		state, err := q.states.ResolveForReadIn(ctx, r, req.AtLedgerState)
		if err != nil {
			return err
		}
		from, err := q.states.ResolveForwardIn(ctx, r, req.FromLedgerState)
		if err != nil {
			return err
		}
		var lower uint64
		if from != nil {
			lower = from.StateVersion
		}
		bound := state.StateVersion
		if cursor != nil && cursor.NextPageAtAndBelowStateVersion != nil && *cursor.NextPageAtAndBelowStateVersion < bound {
			bound = *cursor.NextPageAtAndBelowStateVersion
		}

		// One extra row tells whether there is a next page.
		versions, err := r.StateVersions(ctx, account, lower, bound, limit+1)
		if err != nil {
			return err
		}
		page = &Page{LedgerState: state, FromLedgerState: from}
		if len(versions) > limit {
			page.NextCursor = cursorAt(versions[limit])
			versions = versions[:limit]
		}
		if page.Items, err = r.Transactions(ctx, versions); err != nil {
			return err
		}
		page.TotalCount, err = countTotalIn(ctx, r, account, state)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// CountTotal counts the transactions affecting account at the resolved
// ledger state, except start of epoch transactions. An empty account
// counts every transaction.
func (q *Querier) CountTotal(ctx context.Context, account string, at *ledger.Identifier) (int64, error) {
	var n int64
	err := q.store.View(ctx, func(r ledger.Reader) error {
		state, err := q.states.ResolveForReadIn(ctx, r, at)
		if err != nil {
			return err
		}
		n, err = countTotalIn(ctx, r, account, state)
		return err
	})
	return n, err
}

func countTotalIn(ctx context.Context, r ledger.Reader, account string, state *ledger.State) (int64, error) {
	return r.CountAccountTransactions(ctx, account, state.StateVersion)
}

// CommittedTransaction is a committed transaction and the ledger state it
// was looked up at.
type CommittedTransaction struct {
	LedgerState *ledger.State       `json:"ledger_state"`
	Transaction *ledger.Transaction `json:"transaction"`
}

// Committed looks up the committed transaction of an intent at the
// resolved ledger state. Transaction is nil if the intent was not
// committed by then.
func (q *Querier) Committed(ctx context.Context, intentHash string, at *ledger.Identifier) (*CommittedTransaction, error) {
	var r *CommittedTransaction
	err := q.store.View(ctx, func(reader ledger.Reader) error {
		state, err := q.states.ResolveForReadIn(ctx, reader, at)
		if err != nil {
			return err
		}
		tx, err := q.committedIn(ctx, reader, intentHash, state.StateVersion)
		if err != nil {
			return err
		}
		r = &CommittedTransaction{LedgerState: state, Transaction: tx}
		return nil
	})
	return r, err
}

func (q *Querier) committedIn(ctx context.Context, r ledger.Reader, intentHash string, atOrBelow uint64) (*ledger.Transaction, error) {
	// An intent commits at most once, so a cached row answers for any
	// bound.
	if tx, ok := q.committed.Get(intentHash); ok {
		if tx.StateVersion > atOrBelow {
			return nil, nil
		}
		return tx, nil
	}
	tx, err := r.ByIntentHash(ctx, intentHash, atOrBelow)
	if err != nil || tx == nil {
		return nil, err
	}
	q.committed.Add(intentHash, tx)
	return tx, nil
}
