// Package domain contains core domain types for the alerts assistant.
package domain

import (
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderUser marks messages typed by the customer.
	SenderUser Sender = "user"
	// SenderBot marks messages produced by the assistant.
	SenderBot Sender = "bot"
)

// Message is a single chat utterance. Messages are never mutated once stored.
type Message struct {
	Text      string    `json:"message"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

// IsBot reports whether the assistant authored the message.
func (m Message) IsBot() bool {
	return m.Sender == SenderBot
}

// Session is a point-in-time snapshot of a chat session.
type Session struct {
	ID             string    `json:"sessionId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	Active         bool      `json:"active"`
	Messages       []Message `json:"messages"`
	CustomerID     string    `json:"customerId,omitempty"`
	ECN            string    `json:"ecn,omitempty"`
	XAID           string    `json:"xaId,omitempty"`
}

// UserMessages returns the messages authored by the customer, oldest first.
func UserMessages(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if !m.IsBot() {
			out = append(out, m)
		}
	}
	return out
}
