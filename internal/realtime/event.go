// Package realtime fans chat messages out to connected websocket sessions.
//
// A Hub multiplexes events by room key. Every subscriber has its own bounded
// queue, so a slow socket loses its oldest events instead of stalling the
// publisher. An optional Broker relays events between instances.
package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/models"
)

// EventTypeMessage is the only event type sent to clients.
const EventTypeMessage = "message"

// Event is the wire form of a fanned-out chat message.
type Event struct {
	Type       string    `json:"type"`
	ID         int64     `json:"id"`
	User       uuid.UUID `json:"user"`
	Chat       uuid.UUID `json:"chat"`
	Text       *string   `json:"text"`
	UploadedAt time.Time `json:"uploaded_at"`
	MediaURL   *string   `json:"media_url"`
}

// MessageEvent materializes a persisted message into an Event.
func MessageEvent(m *models.ChatMessage) Event {
	return Event{
		Type:       EventTypeMessage,
		ID:         m.ID,
		User:       m.SenderID,
		Chat:       m.ChatID,
		Text:       m.Text,
		UploadedAt: m.CreatedAt,
		MediaURL:   m.MediaURL(),
	}
}

// RoomKey is the fan-out group for a chat.
func RoomKey(chatID string) string {
	return "chat_" + chatID
}
