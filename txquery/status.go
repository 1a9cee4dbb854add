package txquery

import (
	"context"
	"errors"

	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/mempool"
)

// Status is the lifecycle status of a transaction intent, as known to the
// gateway.
type Status string

const (
	StatusCommittedSuccess Status = "committed_success"
	StatusCommittedFailure Status = "committed_failure"
	StatusPending          Status = "pending"
	StatusFailed           Status = "failed"
	StatusUnknown          Status = "unknown"
)

// StatusResponse merges the committed ledger with the gateway's own
// submission tracking.
type StatusResponse struct {
	LedgerState           *ledger.State         `json:"ledger_state"`
	IntentHash            string                `json:"intent_hash"`
	Status                Status                `json:"status"`
	PayloadHash           string                `json:"payload_hash,omitempty"`
	CommittedStateVersion uint64                `json:"committed_state_version,omitempty"`
	FailureReason         mempool.FailureReason `json:"failure_reason,omitempty"`
	FailureExplanation    string                `json:"failure_explanation,omitempty"`
	SubmissionCount       int                   `json:"submission_count,omitempty"`
}

// Status reports the status of an intent at the top of the ledger.
func (q *Querier) Status(ctx context.Context, intentHash string) (*StatusResponse, error) {
	if intentHash == "" {
		return nil, ledger.InvalidRequestf("Intent hash is required")
	}
	resp := &StatusResponse{IntentHash: intentHash, Status: StatusUnknown}
	err := q.store.View(ctx, func(r ledger.Reader) error {
		state, err := q.states.ResolveForReadIn(ctx, r, nil)
		if err != nil {
			return err
		}
		resp.LedgerState = state
		tx, err := q.committedIn(ctx, r, intentHash, state.StateVersion)
		if err != nil || tx == nil {
			return err
		}
		resp.PayloadHash = tx.PayloadHash
		resp.CommittedStateVersion = tx.StateVersion
		if tx.Success {
			resp.Status = StatusCommittedSuccess
		} else {
			resp.Status = StatusCommittedFailure
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.CommittedStateVersion != 0 || q.mempool == nil {
		return resp, nil
	}

	tracked, err := q.mempool.Get(intentHash)
	if errors.Is(err, mempool.ErrNotFound) {
		return resp, nil
	} else if err != nil {
		return nil, err
	}
	resp.PayloadHash = tracked.PayloadHash
	resp.SubmissionCount = tracked.SubmissionCount
	switch tracked.Status {
	case mempool.StatusFailed:
		resp.Status = StatusFailed
		resp.FailureReason = tracked.FailureReason
		resp.FailureExplanation = tracked.FailureExplanation
	default:
		// Committed records that the replica does not show yet are still
		// pending from the client's point of view.
		resp.Status = StatusPending
	}
	return resp, nil
}
