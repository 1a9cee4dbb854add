// Package mempool tracks transactions submitted through the gateway until
// they are committed or known to have failed. Stores are keyed by intent
// hash and must serialize registrations so that only one submission of a
// given intent is ever sent to a node by the first-submission path.
package mempool

import (
	"time"
)

// Status of a tracked transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusCommitted Status = "committed"
)

// FailureReason explains why a tracked transaction was marked failed. The
// empty reason means not failed.
type FailureReason string

const (
	ReasonNone        FailureReason = ""
	ReasonDoubleSpend FailureReason = "double_spend"
	ReasonTimeout     FailureReason = "timeout"
	ReasonUnknown     FailureReason = "unknown"
)

// Submission is a transaction received by the gateway.
type Submission struct {
	PayloadHash string
	IntentHash  string
	Payload     []byte
	// NodeName is the node the transaction is about to be submitted to.
	NodeName string
}

// Transaction is a tracked submission.
type Transaction struct {
	PayloadHash string `json:"payload_hash" cbor:"1,keyasint"`
	IntentHash  string `json:"intent_hash" cbor:"2,keyasint"`
	Payload     []byte `json:"-" cbor:"3,keyasint"`

	Status             Status        `json:"status" cbor:"4,keyasint"`
	FailureReason      FailureReason `json:"failure_reason,omitempty" cbor:"5,keyasint,omitempty"`
	FailureExplanation string        `json:"failure_explanation,omitempty" cbor:"6,keyasint,omitempty"`

	FirstSubmittedToGateway time.Time `json:"first_submitted_to_gateway" cbor:"7,keyasint"`
	LastSubmittedToGateway  time.Time `json:"last_submitted_to_gateway" cbor:"8,keyasint"`
	LastSubmittedToNode     time.Time `json:"last_submitted_to_node" cbor:"9,keyasint"`
	LastNodeName            string    `json:"last_node_name" cbor:"10,keyasint"`
	// SubmissionCount is the number of times the transaction was sent to a
	// node, including the first submission.
	SubmissionCount int `json:"submission_count" cbor:"11,keyasint"`

	CommittedStateVersion uint64    `json:"committed_state_version,omitempty" cbor:"12,keyasint,omitempty"`
	CommittedAt           time.Time `json:"committed_at,omitempty" cbor:"13,keyasint"`
}

// NewTransaction returns the pending record of a first submission.
func NewTransaction(now time.Time, sub Submission) Transaction {
	return Transaction{
		PayloadHash:             sub.PayloadHash,
		IntentHash:              sub.IntentHash,
		Payload:                 sub.Payload,
		Status:                  StatusPending,
		FirstSubmittedToGateway: now,
		LastSubmittedToGateway:  now,
		LastSubmittedToNode:     now,
		LastNodeName:            sub.NodeName,
		SubmissionCount:         1,
	}
}

// Guidance returns what a repeated submission of an already tracked
// transaction should do. It also records the resubmission to the gateway.
func (tx *Transaction) Guidance(now time.Time) TrackGuidance {
	tx.LastSubmittedToGateway = now
	if tx.Status == StatusFailed {
		return TrackGuidance{AlreadyFailedReason: tx.FailureReason}
	}
	return TrackGuidance{}
}

// TrackGuidance is the outcome of registering a submission.
type TrackGuidance struct {
	// AlreadyFailedReason is set when the transaction was previously marked
	// failed.
	AlreadyFailedReason FailureReason
	// ShouldSubmitToNode is true for exactly one registration per intent.
	ShouldSubmitToNode bool
}

// Stats holds aggregate counts of tracked transactions.
type Stats struct {
	NumPending   int `json:"num_pending"`
	NumFailed    int `json:"num_failed"`
	NumCommitted int `json:"num_committed"`
}

// Store is the durable dedup and tracking store. It must be goroutine-safe.
type Store interface {
	// TrackInitialSubmission registers a submission. Across concurrent
	// callers, at most one is told to submit a given intent to a node.
	TrackInitialSubmission(now time.Time, sub Submission) (TrackGuidance, error)
	// MarkAsFailed marks a tracked transaction as permanently failed.
	MarkAsFailed(intentHash string, reason FailureReason, explanation string, now time.Time) error
	// Get returns the tracked transaction for intentHash.
	Get(intentHash string) (*Transaction, error)

	// ListPending returns up to limit pending transactions, oldest first.
	// A limit of 0 means no limit.
	ListPending(limit int) ([]Transaction, error)
	// MarkResubmitted records another submission of a pending transaction
	// to nodeName.
	MarkResubmitted(intentHash string, nodeName string, now time.Time) error
	// MarkCommitted records that the intent was committed at stateVersion.
	// It returns ErrNotFound for intents that were not tracked.
	MarkCommitted(intentHash string, stateVersion uint64, now time.Time) error
	// PruneCommitted removes committed transactions committed before the
	// given time and returns how many were removed.
	PruneCommitted(before time.Time) (int, error)

	// Stats returns aggregate counts.
	Stats() (*Stats, error)
	// Close releases the store's resources.
	Close() error
}
