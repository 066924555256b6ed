package models

// Peer is a connected endpoint as announced by the relay roster.
type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Label returns the display name, falling back to the id.
func (p Peer) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
