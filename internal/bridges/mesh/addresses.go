package mesh

import (
	"sort"
	"sync"
	"time"
)

// maxChildren is the number of children a mesh node can hold. Each child
// occupies one octal digit, 1 through 5.
const maxChildren = 5

// Lease is one node id to address assignment.
type Lease struct {
	NodeID   uint8
	Address  Address
	Assigned time.Time
	LastSeen time.Time
}

// AddressTable assigns mesh addresses to nodes on behalf of the master.
//
// Addresses are handed out breadth first: the master's own children
// 01..05, then the second level 011..055. A node that asks again keeps its
// address. Leases not refreshed within the lease time are reclaimed by
// Expire.
//
// Thread Safety: all methods are safe for concurrent use.
type AddressTable struct {
	mu     sync.Mutex
	lease  time.Duration
	byNode map[uint8]*Lease
	inUse  map[Address]uint8
	pool   []Address
	now    func() time.Time
}

// NewAddressTable creates an empty table. A zero lease never expires.
func NewAddressTable(lease time.Duration) *AddressTable {
	return &AddressTable{
		lease:  lease,
		byNode: make(map[uint8]*Lease),
		inUse:  make(map[Address]uint8),
		pool:   addressPool(),
		now:    time.Now,
	}
}

// addressPool lists assignable addresses in allocation order.
func addressPool() []Address {
	pool := make([]Address, 0, maxChildren+maxChildren*maxChildren)
	for c := Address(1); c <= maxChildren; c++ {
		pool = append(pool, c)
	}
	for p := Address(1); p <= maxChildren; p++ {
		for c := Address(1); c <= maxChildren; c++ {
			pool = append(pool, p|c<<3)
		}
	}
	return pool
}

// Assign returns the address for nodeID, allocating one if needed.
//
// Returns:
//   - Address: The node's address
//   - bool: True if the address was newly allocated
//   - error: ErrAddressPoolExhausted if every address is taken
func (t *AddressTable) Assign(nodeID uint8) (Address, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if l, ok := t.byNode[nodeID]; ok {
		l.LastSeen = now
		return l.Address, false, nil
	}

	for _, addr := range t.pool {
		if _, taken := t.inUse[addr]; taken {
			continue
		}
		t.byNode[nodeID] = &Lease{NodeID: nodeID, Address: addr, Assigned: now, LastSeen: now}
		t.inUse[addr] = nodeID
		return addr, true, nil
	}
	return 0, false, ErrAddressPoolExhausted
}

// Lookup returns the address held by nodeID.
func (t *AddressTable) Lookup(nodeID uint8) (Address, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.byNode[nodeID]
	if !ok {
		return 0, false
	}
	return l.Address, true
}

// Touch refreshes the lease of whichever node holds addr.
func (t *AddressTable) Touch(addr Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.inUse[addr]; ok {
		t.byNode[id].LastSeen = t.now()
	}
}

// Release frees addr. Releasing an unassigned address is a no-op.
func (t *AddressTable) Release(addr Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.inUse[addr]
	if !ok {
		return false
	}
	delete(t.inUse, addr)
	delete(t.byNode, id)
	return true
}

// Expire reclaims leases last seen more than the lease time before now.
//
// Returns:
//   - []Lease: The reclaimed leases, ordered by address
func (t *AddressTable) Expire(now time.Time) []Lease {
	if t.lease <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Lease
	for id, l := range t.byNode {
		if now.Sub(l.LastSeen) > t.lease {
			expired = append(expired, *l)
			delete(t.inUse, l.Address)
			delete(t.byNode, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Address < expired[j].Address })
	return expired
}

// Len returns the number of assigned addresses.
func (t *AddressTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byNode)
}
