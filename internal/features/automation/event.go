package automation

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func NewMessageEvent(contactID primitive.ObjectID, text, direction, messageID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventMessageReceived,
		ContactID:  contactID,
		Text:       text,
		Direction:  direction,
		MessageID:  messageID,
		OccurredAt: at,
	}
}

func NewContactEvent(contactID primitive.ObjectID, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventNewContact,
		ContactID:  contactID,
		OccurredAt: at,
	}
}

func NewTickEvent(at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventTick,
		OccurredAt: at,
	}
}
