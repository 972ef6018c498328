// Package rooms holds the relay's in-memory call state: the room directory
// and the participant directory.
//
// Both directories are plain maps with no internal locking. They are owned by
// the signaling hub's single control goroutine, which serializes every
// mutation; other goroutines only ever see copies produced by Snapshot.
package rooms

import "sort"

// MaxMembers is the hard cap on room occupancy. A telehealth call is always
// exactly one patient and one clinician; a third join attempt is rejected
// without mutating the room.
const MaxMembers = 2

// Directory maps room id -> set of member connection ids.
//
// Rooms are created lazily on the first join attempt and removed the moment
// their member count reaches zero, so a room id is present iff it has at
// least one member.
type Directory struct {
	rooms map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[string]struct{})}
}

// TryJoin adds connID to the room, creating the room if needed.
//
// It reports whether the join was admitted and the occupancy after the call.
// A join is refused only when the room already holds MaxMembers other
// connections. Re-joining a room the connection is already in is idempotent.
func (d *Directory) TryJoin(roomID, connID string) (joined bool, occupants int) {
	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]struct{}, MaxMembers)
		d.rooms[roomID] = members
	}
	if _, member := members[connID]; member {
		return true, len(members)
	}
	if len(members) >= MaxMembers {
		return false, len(members)
	}
	members[connID] = struct{}{}
	return true, len(members)
}

// Leave removes connID from the room if present and deletes the room once it
// is empty. Absent rooms or members are a no-op: disconnect cleanup must
// tolerate rooms already removed by a prior explicit leave.
func (d *Directory) Leave(roomID, connID string) (removed, deleted bool) {
	members, ok := d.rooms[roomID]
	if !ok {
		return false, false
	}
	if _, member := members[connID]; !member {
		return false, false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
		return true, true
	}
	return true, false
}

// Members returns the member connection ids of a room in sorted order.
// It returns nil for an unknown room.
func (d *Directory) Members(roomID string) []string {
	members, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether connID is currently a member of the room.
func (d *Directory) Contains(roomID, connID string) bool {
	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	_, member := members[connID]
	return member
}

// MemberCount returns the occupancy of a room, 0 for unknown rooms.
func (d *Directory) MemberCount(roomID string) int {
	return len(d.rooms[roomID])
}

// Len returns the number of active rooms.
func (d *Directory) Len() int {
	return len(d.rooms)
}

// RoomIDs returns the ids of all active rooms in sorted order.
func (d *Directory) RoomIDs() []string {
	out := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RoomInfo is the introspection view of a single room.
type RoomInfo struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// Snapshot is a point-in-time copy of the room directory keyed by room id.
type Snapshot map[string]RoomInfo

// Snapshot returns a deep copy of the directory safe to hand to other
// goroutines (the HTTP introspection endpoints).
func (d *Directory) Snapshot() Snapshot {
	out := make(Snapshot, len(d.rooms))
	for id := range d.rooms {
		users := d.Members(id)
		out[id] = RoomInfo{Users: users, Count: len(users)}
	}
	return out
}
