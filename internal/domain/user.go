package domain

import (
	"strings"
	"time"
)

// UserInfo carries the optional customer identifiers attached to a session at creation.
type UserInfo struct {
	CustomerID string `json:"customerId"`
	ECN        string `json:"ecn"`
	XAID       string `json:"xaId"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (u UserInfo) Trimmed() UserInfo {
	return UserInfo{
		CustomerID: strings.TrimSpace(u.CustomerID),
		ECN:        strings.TrimSpace(u.ECN),
		XAID:       strings.TrimSpace(u.XAID),
	}
}

// Feedback is a satisfaction record tied to a session. Records are append-only.
type Feedback struct {
	CustomerID            string    `json:"customerId"`
	ECN                   string    `json:"ecn"`
	XAID                  string    `json:"xaId"`
	SessionID             string    `json:"sessionId" validate:"required"`
	OriginalPromptMessage string    `json:"originalPromptMessage"`
	SatisfactoryMessage   string    `json:"satisfactoryMessage"`
	Reason                string    `json:"reason"`
	Timestamp             time.Time `json:"timestamp"`
}

// FillFrom copies identifiers from the session for every field left empty.
func (f *Feedback) FillFrom(s Session) {
	if f.CustomerID == "" {
		f.CustomerID = s.CustomerID
	}
	if f.ECN == "" {
		f.ECN = s.ECN
	}
	if f.XAID == "" {
		f.XAID = s.XAID
	}
}
