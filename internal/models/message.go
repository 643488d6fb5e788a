package models

// MessageRecord is a persisted chat message. Content is the JSON envelope
// as inserted, without the id; readers stamp ID back in before sending.
type MessageRecord struct {
	ID      int64
	Channel string
	Content string
}
