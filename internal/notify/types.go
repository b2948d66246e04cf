package notify

import "time"

// Status is the delivery state of a notification. A notification starts
// Pending and ends Sent or Failed; terminal states are never mutated again.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Failure reasons recorded on StatusFailed notifications.
const (
	ReasonChannelSaturated = "channel_saturated"
	ReasonSendFailed       = "send_failed"
)

// Notification is one user-facing delivery derived from an attribute update
// event. The same value serves as request and response: Dispatch returns it
// with the initial status, and the channel worker drives it to a terminal
// status recorded in the delivery log.
type Notification struct {
	ID             string                 `json:"id"`
	From           string                 `json:"from"`
	To             string                 `json:"to"`
	SubscriptionID string                 `json:"subscription_id"`
	SessionID      string                 `json:"session_id"`
	ActionID       string                 `json:"action_id,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Channel        string                 `json:"channel"`
	Title          string                 `json:"title,omitempty"`
	Body           string                 `json:"body,omitempty"`
	Icon           string                 `json:"icon,omitempty"`
	SentAt         *time.Time             `json:"sent_at,omitempty"`
	Status         Status                 `json:"status"`
	Reason         string                 `json:"reason,omitempty"`
}

// Subscription maps a user to a delivery channel. Events for the user fan out
// to one notification per matching subscription.
type Subscription struct {
	ID      string `json:"id" yaml:"id"`
	UserID  string `json:"user_id" yaml:"user_id"`
	Channel string `json:"channel" yaml:"channel"`
}
