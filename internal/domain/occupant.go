package domain

// Occupant is a nickname bound to one or more real connections in a room.
// No locking here; the owning room serializes access.
type Occupant struct {
	Nick   string
	// JIDs holds the real full JIDs in join order.
	JIDs   []string
	Role   Role
	Voice  bool
	Show   string
	Status string
}

func NewOccupant(nick, fullJID string) *Occupant {
	return &Occupant{Nick: nick, JIDs: []string{fullJID}}
}

func (o *Occupant) HasJID(full string) bool {
	for _, j := range o.JIDs {
		if j == full {
			return true
		}
	}
	return false
}

func (o *Occupant) AddJID(full string) {
	if !o.HasJID(full) {
		o.JIDs = append(o.JIDs, full)
	}
}

// RemoveJID reports whether the occupant has no connections left.
func (o *Occupant) RemoveJID(full string) bool {
	out := o.JIDs[:0]
	for _, j := range o.JIDs {
		if j != full {
			out = append(out, j)
		}
	}
	o.JIDs = out
	return len(o.JIDs) == 0
}
