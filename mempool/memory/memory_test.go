package memory

import (
	"testing"

	"github.com/vipnode/gateway/mempool"
)

func TestMemoryStore(t *testing.T) {
	mempool.TestSuite(t, func() mempool.Store {
		return New()
	})
}
