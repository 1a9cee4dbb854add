package submission

import "fmt"

// InvalidTransactionError is returned for transactions that can never be
// committed: undecodable payloads, transactions outside their epoch window,
// and transactions a node has unambiguously rejected.
type InvalidTransactionError struct {
	Message string
}

func (err InvalidTransactionError) Error() string {
	return "invalid transaction: " + err.Message
}

// ErrorCode implements rpc.Error.
func (err InvalidTransactionError) ErrorCode() int {
	return -32010
}

func invalidTransactionf(format string, args ...interface{}) error {
	return InvalidTransactionError{Message: fmt.Sprintf(format, args...)}
}
