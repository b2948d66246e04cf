package session

import "time"

// Info is the authoritative metadata for one live session. It is owned
// exclusively by the Store; callers receive copies.
type Info struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	Username  string    `json:"username"`
	DeviceID  string    `json:"device_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session lease has lapsed at the given instant.
func (i Info) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}
