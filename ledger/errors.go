package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoTransactions is returned when the replica has not ingested anything.
var ErrNoTransactions = errors.New("there are no transactions in the read replica")

// RequestType is the kind of request a staleness check was made for.
type RequestType string

const (
	RequestRead         RequestType = "read"
	RequestConstruction RequestType = "construction"
)

// NotSyncedUpError is returned when the replica is too far behind to serve a
// request.
type NotSyncedUpError struct {
	RequestType RequestType
	Lag         time.Duration
	Threshold   time.Duration
}

func (err NotSyncedUpError) Error() string {
	return fmt.Sprintf("the read replica is %s behind, over the %s allowed for %s requests",
		err.Lag.Round(time.Second), err.Threshold, err.RequestType)
}

// ErrorCode implements rpc.Error.
func (err NotSyncedUpError) ErrorCode() int {
	return -32020
}

// InvalidRequestError is returned for out of range identifiers and
// malformed pagination parameters.
type InvalidRequestError struct {
	Message string
}

func (err InvalidRequestError) Error() string {
	return err.Message
}

// ErrorCode implements rpc.Error.
func (err InvalidRequestError) ErrorCode() int {
	return -32602
}

// InvalidRequestf returns an InvalidRequestError with a formatted message.
func InvalidRequestf(format string, args ...interface{}) error {
	return InvalidRequestError{Message: fmt.Sprintf(format, args...)}
}
