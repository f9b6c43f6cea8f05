package mqttd

import (
	"sync"
	"time"
)

// DefaultKeepAliveGrace is the multiple of the keep-alive interval a client may
// stay silent before it is disconnected.
const DefaultKeepAliveGrace = 2.0

// KeepAliveSupervisor disconnects clients that stay silent for longer than their
// keep-alive interval times the grace factor. Entries are keyed by client ID.
type KeepAliveSupervisor struct {
	mu             sync.Mutex
	clock          Clock
	entries        map[string]*KeepAlive
	serverOverride uint16  // server keep-alive override (0 = use client value)
	graceFactor    float64 // multiplier for timeout
}

// KeepAlive is the supervision handle of one client. It is owned by the
// client's session.
type KeepAlive struct {
	sup      *KeepAliveSupervisor
	clientID string
	interval uint16
	timeout  time.Duration
	onExpire func()

	// guarded by sup.mu
	timer    Timer
	gen      uint64
	deadline time.Time
	stopped  bool
}

// NewKeepAliveSupervisor creates a supervisor that schedules on clock.
// A nil clock selects the wall clock.
func NewKeepAliveSupervisor(clock Clock) *KeepAliveSupervisor {
	if clock == nil {
		clock = NewRealClock()
	}
	return &KeepAliveSupervisor{
		clock:       clock,
		entries:     make(map[string]*KeepAlive),
		graceFactor: DefaultKeepAliveGrace,
	}
}

// SetServerOverride sets the server keep-alive override value.
// When set, all clients are supervised with this value instead of their requested value.
func (s *KeepAliveSupervisor) SetServerOverride(seconds uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serverOverride = seconds
}

// ServerOverride returns the server keep-alive override value.
func (s *KeepAliveSupervisor) ServerOverride() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serverOverride
}

// SetGraceFactor sets the grace period multiplier. Values below 1 are raised to 1.
func (s *KeepAliveSupervisor) SetGraceFactor(factor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if factor < 1.0 {
		factor = 1.0
	}
	s.graceFactor = factor
}

// GraceFactor returns the grace period multiplier.
func (s *KeepAliveSupervisor) GraceFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.graceFactor
}

// Add starts supervising clientID and returns its handle. onExpire runs once,
// on the clock's goroutine, if the client stays silent past the deadline.
// An existing entry for the same client is cancelled and replaced.
// An effective interval of 0 disables supervision; the handle is still valid.
func (s *KeepAliveSupervisor) Add(clientID string, keepAlive uint16, onExpire func()) *KeepAlive {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[clientID]; ok {
		old.stopLocked()
	}

	interval := keepAlive
	if s.serverOverride > 0 {
		interval = s.serverOverride
	}

	k := &KeepAlive{
		sup:      s,
		clientID: clientID,
		interval: interval,
		timeout:  time.Duration(float64(interval) * s.graceFactor * float64(time.Second)),
		onExpire: onExpire,
	}
	s.entries[clientID] = k

	if k.timeout > 0 {
		k.armLocked()
	}

	return k
}

// Reset restarts the timer of clientID. It returns false if the client is not supervised.
func (s *KeepAliveSupervisor) Reset(clientID string) bool {
	s.mu.Lock()
	k, ok := s.entries[clientID]
	s.mu.Unlock()

	if !ok {
		return false
	}
	k.Reset()
	return true
}

// Cancel stops supervising clientID.
func (s *KeepAliveSupervisor) Cancel(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.entries[clientID]; ok {
		k.stopLocked()
	}
}

// Deadline returns the time at which clientID expires. ok is false when the
// client is not supervised or its interval is 0.
func (s *KeepAliveSupervisor) Deadline(clientID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.entries[clientID]
	if !ok || k.timeout == 0 {
		return time.Time{}, false
	}
	return k.deadline, true
}

// Count returns the number of supervised clients.
func (s *KeepAliveSupervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Close cancels every pending timer.
func (s *KeepAliveSupervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.entries {
		k.stopLocked()
	}
}

// expire fires the callback unless the timer generation is stale.
func (s *KeepAliveSupervisor) expire(k *KeepAlive, gen uint64) {
	s.mu.Lock()
	if k.stopped || k.gen != gen {
		s.mu.Unlock()
		return
	}
	k.stopLocked()
	s.mu.Unlock()

	if k.onExpire != nil {
		k.onExpire()
	}
}

// Interval returns the effective keep-alive interval in seconds.
func (k *KeepAlive) Interval() uint16 {
	return k.interval
}

// Timeout returns the silence allowed before expiry.
func (k *KeepAlive) Timeout() time.Duration {
	return k.timeout
}

// Reset cancels the pending timer and schedules a fresh one with the same timeout.
func (k *KeepAlive) Reset() {
	if k == nil {
		return
	}

	k.sup.mu.Lock()
	defer k.sup.mu.Unlock()

	if k.stopped || k.timeout == 0 {
		return
	}
	if k.timer != nil {
		k.timer.Stop()
	}
	k.armLocked()
}

// Stop cancels the timer and unregisters the client. It is idempotent.
func (k *KeepAlive) Stop() {
	if k == nil {
		return
	}

	k.sup.mu.Lock()
	defer k.sup.mu.Unlock()

	k.stopLocked()
}

// Deadline returns the current expiry time, zero when supervision is disabled.
func (k *KeepAlive) Deadline() time.Time {
	k.sup.mu.Lock()
	defer k.sup.mu.Unlock()

	return k.deadline
}

func (k *KeepAlive) armLocked() {
	k.gen++
	gen := k.gen
	k.deadline = k.sup.clock.Now().Add(k.timeout)
	k.timer = k.sup.clock.AfterFunc(k.timeout, func() {
		k.sup.expire(k, gen)
	})
}

func (k *KeepAlive) stopLocked() {
	if k.stopped {
		return
	}
	k.stopped = true
	k.gen++
	if k.timer != nil {
		k.timer.Stop()
	}
	if cur, ok := k.sup.entries[k.clientID]; ok && cur == k {
		delete(k.sup.entries, k.clientID)
	}
}
