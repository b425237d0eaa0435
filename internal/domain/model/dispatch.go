package model

import (
	"encoding/json"
	"time"
)

// DispatchPayload is the client payload of a repository dispatch.
type DispatchPayload struct {
	EventType string `json:"eventType"`
	ID        string `json:"id,omitempty"`
	Score     int    `json:"score"`
	Player    string `json:"player"`
	Timestamp int64  `json:"timestamp"`
}

// DispatchRequest is the body POSTed to /repos/{owner}/{repo}/dispatches.
type DispatchRequest struct {
	EventType     string          `json:"event_type"`
	ClientPayload json.RawMessage `json:"client_payload"`
}

// DispatchWebhook is the repository_dispatch event delivered to a runner;
// Action carries the event type.
type DispatchWebhook struct {
	Action        string          `json:"action"`
	ClientPayload json.RawMessage `json:"client_payload"`
}

// Payload converts the event to its wire form.
func (e DispatchEvent) Payload() DispatchPayload {
	return DispatchPayload{
		EventType: EventTypeUpdateScore,
		ID:        e.ID,
		Score:     e.Score,
		Player:    e.Player,
		Timestamp: e.SubmittedAt.UnixMilli(),
	}
}

// Event converts a wire payload back to a DispatchEvent.
func (p DispatchPayload) Event() DispatchEvent {
	return DispatchEvent{
		ID:          p.ID,
		Score:       p.Score,
		Player:      p.Player,
		SubmittedAt: time.UnixMilli(p.Timestamp),
	}
}
