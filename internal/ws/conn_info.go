package ws

import "time"

// ConnInfo captures per-connection identity carried through lifecycle
// events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
