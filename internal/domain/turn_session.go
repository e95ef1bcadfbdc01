package domain

import "time"

// TurnSession is the continuation state kept between turns for one session key
// (a phone number, or a browser identity).
type TurnSession struct {
	Key         string
	Intent      string
	Entities    map[string]any
	Pending     []string
	Iterations  int
	FocusTripID int64
	History     []Message
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasContinuation reports whether an incomplete request is waiting for more input.
func (s *TurnSession) HasContinuation() bool {
	return s != nil && s.Intent != "" && len(s.Pending) > 0
}

// Message is a single exchanged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
