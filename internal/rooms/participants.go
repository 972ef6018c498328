package rooms

import "time"

// Participant is what the relay knows about a live connection: the display
// name and role announced in its join request and the room it sits in.
type Participant struct {
	Name     string
	Role     string
	RoomID   string
	JoinedAt time.Time
}

// Participants maps connection id -> Participant. It is the single source of
// truth for "who is this connection and where are they", used for direct
// O(1) cleanup on disconnect instead of sweeping every room.
type Participants struct {
	byConn map[string]Participant
}

func NewParticipants() *Participants {
	return &Participants{byConn: make(map[string]Participant)}
}

// Register stores the record for connID, overwriting any prior entry so a
// rejoin or retry simply replaces the stale association.
func (p *Participants) Register(connID string, rec Participant) {
	p.byConn[connID] = rec
}

// Lookup returns the record for connID if one exists.
func (p *Participants) Lookup(connID string) (Participant, bool) {
	rec, ok := p.byConn[connID]
	return rec, ok
}

// Remove deletes the record for connID. Removing an absent record is a no-op.
func (p *Participants) Remove(connID string) {
	delete(p.byConn, connID)
}

// Len returns the number of registered participants.
func (p *Participants) Len() int {
	return len(p.byConn)
}

// Each calls fn for every registered participant. Mutating the directory from
// fn is not allowed.
func (p *Participants) Each(fn func(connID string, rec Participant)) {
	for id, rec := range p.byConn {
		fn(id, rec)
	}
}
