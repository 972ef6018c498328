package metrics

import "sync"

// Event names counted by the relay. Each becomes one label value of the
// exported counter.
const (
	Connections      = "connections"
	Disconnects      = "disconnects"
	Joins            = "joins"
	RoomFullRejected = "room_full_rejected"
	RoomsCreated     = "rooms_created"
	RoomsDeleted     = "rooms_deleted"
	Leaves           = "leaves"
	RelayForwarded   = "relay_forwarded"
	RelayDropped     = "relay_dropped"
	SendOverflow     = "send_overflow"
	BadMessage       = "bad_message"
	RateLimited      = "rate_limited"
	StrictRejected   = "strict_rejected"
	WaitingExpired   = "waiting_expired"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay deliberately avoids a heavyweight metrics dependency; counters
// are scraped through the Prometheus text handler in this package.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
