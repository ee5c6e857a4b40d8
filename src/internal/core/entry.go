// FILE: chatwisp/src/internal/core/entry.go
package core

import (
	"encoding/json"
	"time"
)

// Represents a single conversational log record as persisted and broadcast
type LogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
	ReceivedBy string    `json:"received_by,omitempty"`

	// Origin metadata, each independently optional
	IP        *string  `json:"ip"`
	City      *string  `json:"city"`
	Region    *string  `json:"region"`
	Country   *string  `json:"country"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	UserAgent *string  `json:"user_agent"`
	Session   *string  `json:"session"`

	// Payload
	Question *string `json:"question"`
	Answer   *string `json:"answer"`

	// Original submission object, verbatim
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Returns the question text or an empty string
func (e LogEntry) QuestionText() string {
	return deref(e.Question)
}

// Returns the answer text or an empty string
func (e LogEntry) AnswerText() string {
	return deref(e.Answer)
}

// Flattens the entry into a plain map for expression evaluation
func (e LogEntry) Fields() map[string]any {
	return map[string]any{
		"id":          e.ID,
		"timestamp":   e.Timestamp.UnixMilli(),
		"received_at": e.ReceivedAt.UnixMilli(),
		"received_by": e.ReceivedBy,
		"ip":          deref(e.IP),
		"city":        deref(e.City),
		"region":      deref(e.Region),
		"country":     deref(e.Country),
		"lat":         derefFloat(e.Lat),
		"lon":         derefFloat(e.Lon),
		"user_agent":  deref(e.UserAgent),
		"session":     deref(e.Session),
		"question":    deref(e.Question),
		"answer":      deref(e.Answer),
	}
}

// A rejected submission kept in the error journal
type ErrorRecord struct {
	Time   time.Time       `json:"time"`
	Reason string          `json:"reason"`
	IP     string          `json:"ip,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
