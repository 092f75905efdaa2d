package models

// MessageType discriminates chat events.
type MessageType string

const (
	TypeStatus         MessageType = "status"
	TypeMessage        MessageType = "message"
	TypePrivateMessage MessageType = "private_message"
)

// Broadcast is the recipient used for messages addressed to everyone.
const Broadcast = "Todos"

// Message represents a chat event in the message log.
type Message struct {
	ID   string      `json:"id"` // ULID, assigned by the store
	From string      `json:"from"`
	To   string      `json:"to"`
	Text string      `json:"text"`
	Type MessageType `json:"type"`
	Time string      `json:"time"` // HH:MM:SS at write time
}

// VisibleTo reports whether viewer may read the message.
func (m Message) VisibleTo(viewer string) bool {
	if m.Type != TypePrivateMessage {
		return true
	}
	return m.To == viewer || m.From == viewer
}

// IsStatus reports whether the message is a system join/leave notice.
func (m Message) IsStatus() bool {
	return m.Type == TypeStatus
}
