package ws

import "encoding/json"

// Message types accepted from clients.
const (
	TypeJoin         = "join"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChat         = "chat"
	TypeDraw         = "draw"
)

// Server-synthesized presence events.
const (
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
)

// Envelope wraps every signaling frame on the wire. The payload fields
// (offer/answer/candidate/message/data) are opaque cargo: the router
// forwards them verbatim and never looks inside. Sender and SenderName
// are stamped server-side from the authenticated connection; anything a
// client puts there is overwritten.
type Envelope struct {
	Type       string          `json:"type"`
	Target     string          `json:"target,omitempty"`
	Sender     string          `json:"sender,omitempty"`
	SenderName string          `json:"senderName,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// PresenceEvent is the body of user-joined / user-left broadcasts.
type PresenceEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Occupant describes one live connection for the presence roster.
type Occupant struct {
	Handle   string `json:"handle"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}
