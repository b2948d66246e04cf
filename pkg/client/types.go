package client

import "time"

// Session is the client-side view of a live session.
type Session struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	Username  string    `json:"username"`
	DeviceID  string    `json:"device_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSessionRequest establishes a new session.
type CreateSessionRequest struct {
	PlayerID     string                            `json:"player_id"`
	Username     string                            `json:"username,omitempty"`
	DeviceID     string                            `json:"device_id,omitempty"`
	InitialState map[string]map[string]interface{} `json:"initial_state,omitempty"`
}

// ActionRequest submits an action against a session.
type ActionRequest struct {
	SessionID      string      `json:"session_id"`
	ActionType     string      `json:"action_type"`
	Payload        interface{} `json:"payload"`
	ClientVersion  string      `json:"client_version,omitempty"`
	ClientPlatform string      `json:"client_platform,omitempty"`
}

// AttributeUpdate is one attribute change reported on an outcome.
type AttributeUpdate struct {
	EntityID  string      `json:"entityId"`
	Category  string      `json:"category"`
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
	Rejected  bool        `json:"rejected,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// ActionOutcome is the terminal disposition of a submitted action.
type ActionOutcome struct {
	ActionID string            `json:"action_id"`
	Status   string            `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	Detail   string            `json:"detail,omitempty"`
	Applied  []AttributeUpdate `json:"applied,omitempty"`
	Rejected []AttributeUpdate `json:"rejected_updates,omitempty"`
}
