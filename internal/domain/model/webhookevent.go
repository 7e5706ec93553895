package model

import "time"

// WebhookEvent is an append-only audit record of an inbound webhook.
type WebhookEvent struct {
	ID         int64
	ProjectID  string
	EventType  string
	Payload    []byte
	Verified   bool // True when a signature was checked and matched.
	ReceivedAt time.Time
}
