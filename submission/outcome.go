package submission

import (
	"context"
	"errors"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/mempool"
)

// Outcome labels, as reported to metrics.
const (
	resultAlreadyFailed         = "already_failed"
	resultAlreadySubmitted      = "already_submitted"
	resultNodeMarksAsDuplicate  = "node_marks_as_duplicate"
	resultSuccess               = "success"
	resultSubstateMissing       = "substate_missing_or_already_used"
	resultInvalidTransaction    = "invalid_transaction"
	resultUnknownPermanentError = "unknown_permanent_error"
	resultRequestTimeout        = "request_timeout"
	resultUnknownError          = "unknown_error"
	resultNoNodesAvailable      = "no_nodes_available"
	resultGaveUp                = "gave_up"
)

// outcome is the classified result of sending a transaction to a node.
type outcome struct {
	label     string
	duplicate bool
	// failed is set when the node rejected the transaction for good.
	failed mempool.FailureReason
	// err is returned to the submitter. Ambiguous outcomes have none.
	err error
}

// classify maps a node's answer to a submission. Only an unambiguous
// rejection marks the transaction failed.
func classify(result *coreapi.SubmitResult, err error) outcome {
	if err == nil {
		if result != nil && result.Duplicate {
			return outcome{label: resultNodeMarksAsDuplicate, duplicate: true}
		}
		return outcome{label: resultSuccess}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome{label: resultRequestTimeout}
	}
	apiErr, ok := coreapi.AsAPIError(err)
	if !ok {
		return outcome{label: resultUnknownError}
	}
	switch {
	case apiErr.Details.Kind == coreapi.KindSubstateMissingOrAlreadyUsed:
		return outcome{
			label:  resultSubstateMissing,
			failed: mempool.ReasonDoubleSpend,
			err:    InvalidTransactionError{Message: apiErr.Message},
		}
	case apiErr.Details.MarksInvalidTransaction:
		return outcome{
			label:  resultInvalidTransaction,
			failed: mempool.ReasonUnknown,
			err:    InvalidTransactionError{Message: apiErr.Message},
		}
	case apiErr.IsPermanent():
		return outcome{
			label:  resultUnknownPermanentError,
			failed: mempool.ReasonUnknown,
			err:    apiErr,
		}
	}
	return outcome{label: resultUnknownError}
}
