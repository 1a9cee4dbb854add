// Package submission turns signed transactions into tracked, idempotent
// submissions to Core nodes, and keeps resubmitting them until their fate
// is known.
package submission

import (
	"context"
	"errors"
	"time"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/ledger"
	"github.com/vipnode/gateway/mempool"
	"github.com/vipnode/gateway/metrics"
	"github.com/vipnode/gateway/nodepool"
)

// DefaultSubmitTimeout bounds the first submission of a transaction to a
// node.
const DefaultSubmitTimeout = 3 * time.Second

// Picker chooses the node to send a request to.
type Picker interface {
	Pick() (*nodepool.Member, error)
}

// Ledger is the view of the ledger needed to check and build transactions.
type Ledger interface {
	Top(ctx context.Context) (*ledger.State, error)
	TopForConstruction(ctx context.Context) (*ledger.State, error)
}

// Result of a successful submission.
type Result struct {
	// TransactionID is the payload hash of the notarized transaction.
	TransactionID string `json:"transaction_id"`
	IntentHash    string `json:"intent_hash"`
	// Duplicate is set when the transaction was already submitted, through
	// this gateway or directly to the node.
	Duplicate bool `json:"duplicate"`
}

// Submitter submits transactions.
type Submitter struct {
	// Now is the clock recorded in the tracking store. (Optional)
	Now func() time.Time
	// Timeout bounds each submission to a node.
	Timeout time.Duration

	pool    Picker
	store   mempool.Store
	ledger  Ledger
	metrics *metrics.GatewayMetrics
}

// NewSubmitter returns a Submitter. ledger is used to reject transactions
// outside their epoch window and may be nil.
func NewSubmitter(pool Picker, store mempool.Store, ledger Ledger) *Submitter {
	return &Submitter{
		Timeout: DefaultSubmitTimeout,
		pool:    pool,
		store:   store,
		ledger:  ledger,
	}
}

// WithMetrics counts submission outcomes in m.
func (s *Submitter) WithMetrics(m *metrics.GatewayMetrics) *Submitter {
	s.metrics = m
	return s
}

func (s *Submitter) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Submit tracks a notarized transaction and sends it to a node, unless it
// was submitted before. Transactions whose fate is ambiguous after the
// submission (timeouts, transport errors) are reported as submitted.
func (s *Submitter) Submit(ctx context.Context, payload []byte) (*Result, error) {
	parsed, err := coreapi.ParseNotarized(payload)
	if err != nil {
		return nil, InvalidTransactionError{Message: err.Error()}
	}
	if err := s.checkIntent(ctx, parsed.Intent); err != nil {
		return nil, err
	}
	result := &Result{
		TransactionID: parsed.PayloadHash,
		IntentHash:    parsed.IntentHash,
	}

	member, pickErr := s.pool.Pick()
	nodeName := ""
	if pickErr == nil {
		nodeName = member.Name
	}

	guidance, err := s.store.TrackInitialSubmission(s.now(), mempool.Submission{
		PayloadHash: parsed.PayloadHash,
		IntentHash:  parsed.IntentHash,
		Payload:     payload,
		NodeName:    nodeName,
	})
	if err != nil {
		return nil, err
	}
	if guidance.AlreadyFailedReason != mempool.ReasonNone {
		s.metrics.ObserveSubmitResolution(resultAlreadyFailed)
		return nil, invalidTransactionf("transaction %s previously failed: %s", parsed.IntentHash, guidance.AlreadyFailedReason)
	}
	if !guidance.ShouldSubmitToNode {
		s.metrics.ObserveSubmitResolution(resultAlreadySubmitted)
		result.Duplicate = true
		return result, nil
	}
	if pickErr != nil {
		// Tracked as pending, the resubmitter sends it once nodes recover.
		s.metrics.ObserveSubmitResolution(resultNoNodesAvailable)
		return nil, pickErr
	}

	o := sendToNode(ctx, s.store, s.now, s.Timeout, member, parsed.IntentHash, payload)
	s.metrics.ObserveSubmitResolution(o.label)
	if o.err != nil {
		return nil, o.err
	}
	result.Duplicate = o.duplicate
	return result, nil
}

// sendToNode submits payload to member under timeout and records
// unambiguous rejections in store.
func sendToNode(ctx context.Context, store mempool.Store, now func() time.Time, timeout time.Duration, member *nodepool.Member, intentHash string, payload []byte) outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *coreapi.SubmitResult
	node, err := member.API(ctx)
	if err == nil {
		result, err = node.SubmitTransaction(ctx, payload)
	}
	o := classify(result, err)

	switch {
	case o.failed != mempool.ReasonNone:
		logger.Infof("Node %s rejected transaction %s: %s", member.Name, intentHash, o.err)
		if markErr := store.MarkAsFailed(intentHash, o.failed, o.err.Error(), now()); markErr != nil {
			logger.Errorf("Failed to mark transaction %s as failed: %s", intentHash, markErr)
		}
	case o.label == resultRequestTimeout:
		logger.Warningf("Submission of transaction %s to node %s timed out after %s, it may still be committed", intentHash, member.Name, timeout)
	case o.label == resultUnknownError:
		logger.Warningf("Submission of transaction %s to node %s failed ambiguously, it may still be committed: %s", intentHash, member.Name, err)
	default:
		logger.Debugf("Submitted transaction %s to node %s: %s", intentHash, member.Name, o.label)
	}
	return o
}

// checkIntent rejects intents for another network or outside their epoch
// window. An intent starting at the next epoch passes, as the replica may be
// an epoch behind the node that built it. It passes when the current ledger
// state is unknown.
func (s *Submitter) checkIntent(ctx context.Context, intent *coreapi.Intent) error {
	if s.ledger == nil || intent == nil {
		return nil
	}
	top, err := s.ledger.Top(ctx)
	if errors.Is(err, ledger.ErrNoTransactions) {
		return nil
	} else if err != nil {
		logger.Debugf("Skipping epoch check, the current epoch is unknown: %s", err)
		return nil
	}
	if top.Network != "" && intent.Network != top.Network {
		return invalidTransactionf("transaction is for network %q, not %q", intent.Network, top.Network)
	}
	if top.Epoch >= intent.EndEpochExclusive {
		return invalidTransactionf("transaction expired at epoch %d, the current epoch is %d", intent.EndEpochExclusive, top.Epoch)
	}
	if intent.StartEpochInclusive > top.Epoch+1 {
		return invalidTransactionf("transaction is not valid before epoch %d, the current epoch is %d", intent.StartEpochInclusive, top.Epoch)
	}
	return nil
}
