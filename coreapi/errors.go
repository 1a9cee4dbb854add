package coreapi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorKind is the machine readable class of a Core API error.
type ErrorKind string

const (
	KindUnknown                      ErrorKind = ""
	KindSubstateMissingOrAlreadyUsed ErrorKind = "substate_missing_or_already_used"
	KindInvalidTransaction           ErrorKind = "invalid_transaction"
	KindMempoolFull                  ErrorKind = "mempool_full"
	KindNetworkMismatch              ErrorKind = "network_mismatch"
	KindInternal                     ErrorKind = "internal"
)

// ErrorDetails is carried in the data field of Core API errors.
type ErrorDetails struct {
	Kind                    ErrorKind `json:"kind"`
	Transient               bool      `json:"is_transient"`
	MarksInvalidTransaction bool      `json:"marks_invalid_transaction"`
}

// APIError is a classified error returned by a Core node. It implements
// rpc.Error and rpc.DataError so the same value can be served by a node
// implementation and decoded by the client.
type APIError struct {
	Code    int
	Message string
	Details ErrorDetails
}

func (err *APIError) Error() string {
	if err.Details.Kind == KindUnknown {
		return fmt.Sprintf("core api error %d: %s", err.Code, err.Message)
	}
	return fmt.Sprintf("core api error %d (%s): %s", err.Code, err.Details.Kind, err.Message)
}

// ErrorCode implements rpc.Error.
func (err *APIError) ErrorCode() int {
	return err.Code
}

// ErrorData implements rpc.DataError.
func (err *APIError) ErrorData() interface{} {
	return err.Details
}

// IsPermanent is true when retrying the same request cannot succeed.
func (err *APIError) IsPermanent() bool {
	return !err.Details.Transient
}

const defaultAPIErrorCode = -32000

// NewAPIError returns an APIError with the given classification.
func NewAPIError(kind ErrorKind, transient bool, marksInvalid bool, message string) *APIError {
	return &APIError{
		Code:    defaultAPIErrorCode,
		Message: message,
		Details: ErrorDetails{
			Kind:                    kind,
			Transient:               transient,
			MarksInvalidTransaction: marksInvalid,
		},
	}
}

// ErrSubstateMissingOrAlreadyUsed builds the error a node returns when a
// transaction depends on state that is missing or was already consumed.
func ErrSubstateMissingOrAlreadyUsed(message string) *APIError {
	return NewAPIError(KindSubstateMissingOrAlreadyUsed, false, true, message)
}

// AsAPIError returns the classified Core API error in err's chain, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// translateError converts the rpc client's generic error into an APIError
// when the node attached classification data. Transport errors are returned
// unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) || dataErr.ErrorData() == nil {
		return err
	}
	raw, jsonErr := json.Marshal(dataErr.ErrorData())
	if jsonErr != nil {
		return err
	}
	apiErr := &APIError{
		Code:    defaultAPIErrorCode,
		Message: dataErr.Error(),
	}
	if jsonErr := json.Unmarshal(raw, &apiErr.Details); jsonErr != nil {
		return err
	}
	var codedErr rpc.Error
	if errors.As(err, &codedErr) {
		apiErr.Code = codedErr.ErrorCode()
	}
	return apiErr
}
