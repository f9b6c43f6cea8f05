package mqttd

import (
	"errors"
	"sync"
)

// ErrPacketIDExhausted is returned when every packet identifier is in use.
var ErrPacketIDExhausted = errors.New("mqttd: packet identifiers exhausted")

const (
	minPacketID = 1
	maxPacketID = 65535

	// allocateProbeLimit bounds Allocate to two full sweeps of the id space.
	allocateProbeLimit = 2 * maxPacketID
)

// PacketIDAllocator hands out packet identifiers in [1, 65535]. An identifier
// is never returned twice while it is in use. It is safe for concurrent use.
type PacketIDAllocator struct {
	mu     sync.Mutex
	inUse  map[uint16]struct{}
	cursor uint16
}

// NewPacketIDAllocator creates an empty allocator.
func NewPacketIDAllocator() *PacketIDAllocator {
	return &PacketIDAllocator{
		inUse: make(map[uint16]struct{}),
	}
}

// Allocate reserves the next free identifier after the cursor, wrapping from
// 65535 back to 1. It fails with ErrPacketIDExhausted after two full sweeps.
func (a *PacketIDAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.cursor
	for range allocateProbeLimit {
		if id == maxPacketID {
			id = minPacketID
		} else {
			id++
		}

		if _, used := a.inUse[id]; !used {
			a.inUse[id] = struct{}{}
			a.cursor = id
			return id, nil
		}
	}

	return 0, ErrPacketIDExhausted
}

// Release frees id. Releasing an identifier that is not in use is a no-op.
func (a *PacketIDAllocator) Release(id uint16) {
	a.mu.Lock()
	delete(a.inUse, id)
	a.mu.Unlock()
}

// InUse reports whether id is currently allocated.
func (a *PacketIDAllocator) InUse(id uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, used := a.inUse[id]
	return used
}

// Len returns the number of identifiers currently allocated.
func (a *PacketIDAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.inUse)
}
