package mesh

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// maxQueuedFrames bounds the data frames held between Update and Read.
// Frames arriving at a full queue are dropped and counted.
const maxQueuedFrames = 64

// Network is the transport the ingest adapter polls. Implementations never
// block: Update pumps whatever the radio side has delivered and returns.
type Network interface {
	// Update pumps the transport. System frames are consumed here and
	// never become visible through Available or Peek.
	Update() error

	// DHCP answers pending address requests.
	DHCP()

	// Available reports whether a data frame is queued.
	Available() bool

	// Peek returns the next frame's header without consuming it.
	Peek() (Header, error)

	// Read consumes the frame described by h, copies min(len(buf), payload
	// length) bytes into buf and returns the full payload length. A nil
	// buf drains the frame.
	Read(h Header, buf []byte) (int, error)

	Close() error
}

// NetworkStats holds transport counters.
type NetworkStats struct {
	FramesQueued     uint64
	FramesDropped    uint64
	SystemFrames     uint64
	AddressesIssued  uint64
	AddressesExpired uint64
}

// frameQueue is the routing core shared by every Network implementation.
// Data frames are queued for the adapter; address requests wait for DHCP;
// releases and unknown system frames are handled immediately.
type frameQueue struct {
	mu       sync.Mutex
	data     []Frame
	requests []Header
	table    *AddressTable
	stats    NetworkStats
	now      func() time.Time
}

func newFrameQueue(table *AddressTable) *frameQueue {
	if table == nil {
		table = NewAddressTable(0)
	}
	return &frameQueue{table: table, now: time.Now}
}

// route sorts one inbound frame.
func (q *frameQueue) route(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !f.Header.IsSystem() {
		q.table.Touch(f.Header.From)
		if len(q.data) >= maxQueuedFrames {
			q.stats.FramesDropped++
			return
		}
		q.data = append(q.data, f)
		q.stats.FramesQueued++
		return
	}

	q.stats.SystemFrames++
	switch f.Header.Type {
	case TypeAddressRequest, TypeAddressLookup:
		q.requests = append(q.requests, f.Header)
	case TypeAddressRelease:
		q.table.Release(f.Header.From)
	}
}

// dhcp answers queued requests through send and expires stale leases.
func (q *frameQueue) dhcp(send func(Frame) error) error {
	q.mu.Lock()
	requests := q.requests
	q.requests = nil
	q.mu.Unlock()

	var firstErr error
	for _, req := range requests {
		nodeID := req.Reserved
		var (
			addr  Address
			fresh bool
			err   error
		)
		if req.Type == TypeAddressLookup {
			var ok bool
			if addr, ok = q.table.Lookup(nodeID); !ok {
				continue
			}
		} else if addr, fresh, err = q.table.Assign(nodeID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("assign node %d: %w", nodeID, err)
			}
			continue
		}

		resp := Frame{
			Header: Header{
				From:     MasterAddress,
				To:       req.From,
				ID:       req.ID,
				Type:     TypeAddressResponse,
				Reserved: nodeID,
			},
			Payload: binary.LittleEndian.AppendUint16(nil, uint16(addr)),
		}
		if err := send(resp); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("send address response to node %d: %w", nodeID, err)
		}
		if fresh {
			q.mu.Lock()
			q.stats.AddressesIssued++
			q.mu.Unlock()
		}
	}

	expired := q.table.Expire(q.now())
	if len(expired) > 0 {
		q.mu.Lock()
		q.stats.AddressesExpired += uint64(len(expired))
		q.mu.Unlock()
	}
	return firstErr
}

// full reports whether another data frame would be dropped.
func (q *frameQueue) full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data) >= maxQueuedFrames
}

func (q *frameQueue) available() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data) > 0
}

func (q *frameQueue) peek() (Header, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.data) == 0 {
		return Header{}, ErrNoFrame
	}
	return q.data[0].Header, nil
}

func (q *frameQueue) read(h Header, buf []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.data) == 0 {
		return 0, ErrNoFrame
	}
	f := q.data[0]
	if f.Header.From != h.From || f.Header.ID != h.ID || f.Header.Type != h.Type {
		return 0, fmt.Errorf("%w: header does not match queued frame %d from %s", ErrInvalidFrame, f.Header.ID, f.Header.From)
	}

	q.data[0] = Frame{}
	q.data = q.data[1:]
	copy(buf, f.Payload)
	return len(f.Payload), nil
}

func (q *frameQueue) snapshot() NetworkStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Ensure MemoryNetwork implements Network.
var _ Network = (*MemoryNetwork)(nil)

// MemoryNetwork is an in-process Network. Frames passed to Enqueue become
// visible after the next Update, mirroring a radio that delivers between
// polls. Address responses produced by DHCP are kept for inspection.
type MemoryNetwork struct {
	mu     sync.Mutex
	inbox  []Frame
	sent   []Frame
	closed bool
	q      *frameQueue
}

// NewMemoryNetwork creates an empty in-process network. table may be nil.
func NewMemoryNetwork(table *AddressTable) *MemoryNetwork {
	return &MemoryNetwork{q: newFrameQueue(table)}
}

// Enqueue delivers frames to the network's inbox.
func (n *MemoryNetwork) Enqueue(frames ...Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox = append(n.inbox, frames...)
}

// Update moves every delivered frame into the routing queue.
func (n *MemoryNetwork) Update() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNotConnected
	}
	inbox := n.inbox
	n.inbox = nil
	n.mu.Unlock()

	for _, f := range inbox {
		n.q.route(f)
	}
	return nil
}

// DHCP answers pending address requests. Responses are recorded in Sent.
func (n *MemoryNetwork) DHCP() {
	_ = n.q.dhcp(func(f Frame) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.sent = append(n.sent, f)
		return nil
	})
}

// Available implements Network.
func (n *MemoryNetwork) Available() bool { return n.q.available() }

// Peek implements Network.
func (n *MemoryNetwork) Peek() (Header, error) { return n.q.peek() }

// Read implements Network.
func (n *MemoryNetwork) Read(h Header, buf []byte) (int, error) { return n.q.read(h, buf) }

// Sent returns the frames written back to the mesh.
func (n *MemoryNetwork) Sent() []Frame {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Frame(nil), n.sent...)
}

// Stats returns transport counters.
func (n *MemoryNetwork) Stats() NetworkStats { return n.q.snapshot() }

// Close stops further updates.
func (n *MemoryNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}
