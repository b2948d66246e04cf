package events

import (
	"time"

	"github.com/playmesh-dev/playmesh/go/internal/state"
)

// SourceServer is the default event source.
const SourceServer = "server"

// AttributeUpdateEvent is a derived, non-authoritative notice that a session's
// attributes changed. Consumers treat it as a change notification, never as a
// state source of truth. Events carry no publisher sequence number; consumers
// that need deduplication key on ActionID.
type AttributeUpdateEvent struct {
	ID        string                        `json:"id"`
	ActionID  string                        `json:"action_id"`
	SessionID string                        `json:"session_id"`
	UserID    string                        `json:"user_id"`
	Username  string                        `json:"username"`
	Updates   []state.EntityAttributeUpdate `json:"updates"`
	Source    string                        `json:"source"`
	Timestamp time.Time                     `json:"timestamp"`
}
