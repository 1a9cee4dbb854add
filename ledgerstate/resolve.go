package ledgerstate

import (
	"context"

	"github.com/vipnode/gateway/ledger"
)

// resolveBackward finds the last transaction at or before id.
func resolveBackward(ctx context.Context, r ledger.Reader, id *ledger.Identifier) (*ledger.Transaction, error) {
	switch {
	case id.StateVersion != nil:
		return atStateVersion(ctx, r, *id.StateVersion)
	case id.Timestamp != nil:
		tx, err := r.LastAtOrBefore(ctx, *id.Timestamp)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			if _, err := r.Top(ctx); err != nil {
				return nil, err
			}
			return nil, ledger.InvalidRequestf("Timestamp was before the start of the ledger")
		}
		return tx, nil
	default:
		return atEpoch(ctx, r, id)
	}
}

// resolveForward finds the first transaction at or after id.
func resolveForward(ctx context.Context, r ledger.Reader, id *ledger.Identifier) (*ledger.Transaction, error) {
	switch {
	case id.StateVersion != nil:
		return atStateVersion(ctx, r, *id.StateVersion)
	case id.Timestamp != nil:
		tx, err := r.FirstAtOrAfter(ctx, *id.Timestamp)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			if _, err := r.Top(ctx); err != nil {
				return nil, err
			}
			return nil, ledger.InvalidRequestf("Timestamp is beyond the end of the known ledger")
		}
		return tx, nil
	default:
		return atEpoch(ctx, r, id)
	}
}

func atStateVersion(ctx context.Context, r ledger.Reader, v uint64) (*ledger.Transaction, error) {
	tx, err := r.AtStateVersion(ctx, v)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}
	top, err := r.Top(ctx)
	if err != nil {
		return nil, err
	}
	if v > top.StateVersion {
		return nil, ledger.InvalidRequestf("State version is beyond the end of the known ledger")
	}
	return nil, ledger.InvalidRequestf("State version was before the start of the ledger")
}

func atEpoch(ctx context.Context, r ledger.Reader, id *ledger.Identifier) (*ledger.Transaction, error) {
	epoch := *id.Epoch
	var tx *ledger.Transaction
	var err error
	if id.Round != nil {
		tx, err = r.AtEpochRound(ctx, epoch, *id.Round)
	} else {
		tx, err = r.AtEpochStart(ctx, epoch)
	}
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}
	if _, err := r.Top(ctx); err != nil {
		return nil, err
	}
	if id.Round != nil {
		return nil, ledger.InvalidRequestf("Epoch %d round %d is beyond the end of the known ledger", epoch, *id.Round)
	}
	return nil, ledger.InvalidRequestf("Epoch %d is beyond the end of the known ledger", epoch)
}
