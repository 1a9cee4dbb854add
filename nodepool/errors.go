package nodepool

import (
	"fmt"
	"strings"
)

const errCodeConfiguration = -32001

// NoNodesAvailableError is returned by Pick when the last probe cycle left
// no usable node. It is not retried internally.
type NoNodesAvailableError struct {
	NumEnabled int
}

func (err NoNodesAvailableError) Error() string {
	if err.NumEnabled == 0 {
		return "no valid core nodes available"
	}
	return fmt.Sprintf("no valid core nodes available out of %d enabled nodes", err.NumEnabled)
}

// ErrorCode implements rpc.Error.
func (err NoNodesAvailableError) ErrorCode() int {
	return errCodeConfiguration
}

// ConfigurationError is returned when the node list cannot form a pool.
type ConfigurationError struct {
	Problems []string
}

func (err ConfigurationError) Error() string {
	if len(err.Problems) == 0 {
		return "invalid node configuration"
	}
	return fmt.Sprintf("invalid node configuration: %s", strings.Join(err.Problems, "; "))
}

// ErrorCode implements rpc.Error.
func (err ConfigurationError) ErrorCode() int {
	return errCodeConfiguration
}
