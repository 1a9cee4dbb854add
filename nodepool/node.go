package nodepool

import (
	"context"
	"fmt"
	"sync"

	"github.com/vipnode/gateway/coreapi"
)

// Node describes a configured Core node. It is static configuration.
type Node struct {
	Name    string  `toml:"name" json:"name"`
	Address string  `toml:"address" json:"address"`
	Weight  float64 `toml:"weight" json:"weight"`
	Enabled bool    `toml:"enabled" json:"enabled"`
}

// IsEnabled is true if the node should be probed and picked.
func (n Node) IsEnabled() bool {
	return n.Enabled && n.Address != ""
}

// DialFunc connects to the Core node at address.
type DialFunc func(ctx context.Context, address string) (coreapi.Node, error)

// Member is an enabled node of a Pool. The connection is dialed on first use
// and reused afterwards.
type Member struct {
	Node

	dial DialFunc

	mu   sync.Mutex
	conn coreapi.Node
}

// API returns the Core API client for this member, dialing it if necessary.
func (m *Member) API(ctx context.Context) (coreapi.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.dial(ctx, m.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node %q: %w", m.Name, err)
	}
	m.conn = conn
	return conn, nil
}

func (m *Member) String() string {
	return fmt.Sprintf("Member(%q)", m.Name)
}
