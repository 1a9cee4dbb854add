package mempool

import "errors"

// ErrNotFound is returned when an intent hash is not tracked.
var ErrNotFound = errors.New("transaction not tracked")

// ErrMalformedSubmission is returned when a submission is missing its
// identifiers.
var ErrMalformedSubmission = errors.New("malformed submission: missing intent or payload hash")

// ErrNotPending is returned when a resubmission is recorded for a
// transaction that is no longer pending.
var ErrNotPending = errors.New("transaction is not pending")
