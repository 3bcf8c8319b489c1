package cluster

import (
	"fmt"
	"sort"
	"sync"
)

// Node represents a single cluster member running a bookcluster instance.
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"` // host:port
	IsAlive bool   `json:"is_alive"`
}

// Membership tracks which nodes are in the cluster and exposes two distinct
// routing views over the same node set:
//
//   - TermOwners(), backed by the partition Ring, names the primary and
//     backup nodes for an inverted-index term with low reshuffle cost when
//     a node joins or leaves.
//   - Peers(), a deterministic sorted peer list, feeds the replication
//     transport's fixed modular placement rule, which is intentionally
//     NOT partition-hashed (see cluster.Transport).
//
// Membership is static, seeded at startup and amended over the cluster
// join/leave endpoints; swapping in a gossip protocol would change only
// how Join/Leave get called, not the routing views.
type Membership struct {
	mu     sync.RWMutex
	selfID string
	nodes  map[string]*Node // nodeID → Node
	ring   *Ring
}

// NewMembership creates membership seeded with the provided node list.
// selfID identifies which of nodes is this process, for Peers() to exclude.
// partitions is the term-partition count handed to the Ring.
func NewMembership(selfID string, nodes []Node, partitions int) *Membership {
	m := &Membership{
		selfID: selfID,
		nodes:  make(map[string]*Node),
		ring:   NewRing(partitions),
	}
	for i := range nodes {
		n := nodes[i]
		n.IsAlive = true
		m.nodes[n.ID] = &n
		m.ring.AddNode(n.ID)
	}
	return m
}

// Join admits a new node: it becomes eligible for term-partition ownership
// and replica placement on every node that processes the join.
func (m *Membership) Join(node Node) error {
	if node.ID == "" || node.Address == "" {
		return fmt.Errorf("join needs both a node id and an address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[node.ID]; ok {
		return fmt.Errorf("node %s already in cluster", node.ID)
	}
	node.IsAlive = true
	m.nodes[node.ID] = &node
	m.ring.AddNode(node.ID)
	return nil
}

// Leave removes a departing node; its term partitions fall to the
// remaining members. A node cannot remove itself from its own view.
func (m *Membership) Leave(nodeID string) error {
	if nodeID == m.selfID {
		return fmt.Errorf("node %s cannot leave its own membership view", nodeID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return fmt.Errorf("node %s not in cluster", nodeID)
	}
	delete(m.nodes, nodeID)
	m.ring.RemoveNode(nodeID)
	return nil
}

// All returns a copy of every current node including self, sorted by ID so
// admin surfaces render the same listing on every node.
func (m *Membership) All() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Peers returns every node except self, sorted by ID so every node in the
// cluster computes the same ordering — required for the deterministic
// modular replica placement in cluster.Transport.
func (m *Membership) Peers() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.ID == m.selfID {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SelfID returns this process's node ID.
func (m *Membership) SelfID() string {
	return m.selfID
}

// TermOwners returns the nodes responsible for term's partition — the
// primary first, then n-1 backups — resolved through the partition ring
// against the live member set.
func (m *Membership) TermOwners(term string, n int) []*Node {
	ids := m.ring.Owners(term, n)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var owners []*Node
	for _, id := range ids {
		if node, ok := m.nodes[id]; ok && node.IsAlive {
			owners = append(owners, node)
		}
	}
	return owners
}
