package core

import (
	"time"

	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/domain"
)

// Stanza is an outbound stanza already addressed to one real JID.
// The transport delivers them in the order the room returned them.
type Stanza interface {
	Recipient() string
}

// Item is the muc#user item describing an occupant.
// JID is empty when the recipient may not see the real JID.
type Item struct {
	Affiliation domain.Affiliation `json:"affiliation"`
	Role        domain.Role        `json:"role"`
	JID         string             `json:"jid,omitempty"`
	Nick        string             `json:"nick,omitempty"`
	Actor       string             `json:"actor,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

type Presence struct {
	From      string              `json:"from"`
	To        string              `json:"to"`
	Type      stanza.PresenceType `json:"type,omitempty"`
	Show      string              `json:"show,omitempty"`
	Status    string              `json:"status,omitempty"`
	Items     []Item              `json:"items,omitempty"`
	Codes     []string            `json:"codes,omitempty"`
	Destroyed bool                `json:"destroyed,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

func (p Presence) Recipient() string { return p.To }

// HasCode reports whether the presence carries the status code.
func (p Presence) HasCode(code string) bool {
	for _, c := range p.Codes {
		if c == code {
			return true
		}
	}
	return false
}

type Message struct {
	From    string             `json:"from"`
	To      string             `json:"to"`
	Type    stanza.MessageType `json:"type"`
	Body    string             `json:"body,omitempty"`
	Subject *string            `json:"subject,omitempty"`
	Codes   []string           `json:"codes,omitempty"`
	Delay   *time.Time         `json:"delay,omitempty"`
}

func (m Message) Recipient() string { return m.To }
